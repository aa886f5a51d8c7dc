package model

import (
	"encoding/json"
	"strings"
	"time"
)

// AckStatus 事件确认状态
type AckStatus string

const (
	AckPending AckStatus = "PENDING"
	AckSuccess AckStatus = "ACKNOWLEDGED"
	AckFailed  AckStatus = "ACK_FAILED"
)

// EventCategory groups upstream event codes.
type EventCategory string

const (
	CategoryOrder    EventCategory = "ORDER"
	CategoryCatalog  EventCategory = "CATALOG"
	CategoryMerchant EventCategory = "MERCHANT"
	CategoryOther    EventCategory = "OTHER"
)

// Event is a normalized upstream event. Identity fields never change after
// receipt; only the acknowledgment sub-state is mutated.
type Event struct {
	ID          string
	SessionID   string
	MerchantID  string
	OrderID     string
	Code        string
	FullCode    string
	Category    EventCategory
	OrderStatus string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ReceivedAt  time.Time

	AckStatus      AckStatus
	AckAttempts    int
	LastAttemptAt  *time.Time
	LastError      string
	AcknowledgedAt *time.Time
	BatchID        string
}

// order event codes
var orderCodes = map[string]string{
	"PLC": "PENDING",
	"CFM": "CONFIRMED",
	"SPS": "PREPARING",
	"SPE": "CANCELLED",
	"RTP": "READY",
	"DSP": "DISPATCHED",
	"CON": "DELIVERED",
	"CAN": "CANCELLED",
}

// CategorizeEvent maps an event code to its category.
func CategorizeEvent(code string) EventCategory {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := orderCodes[code]; ok {
		return CategoryOrder
	}
	switch {
	case code == "CATALOG_UPDATED":
		return CategoryCatalog
	case code == "MERCHANT_STATUS_CHANGED", strings.HasPrefix(code, "INTERRUPTION_"):
		return CategoryMerchant
	}
	return CategoryOther
}

// OrderStatusFor 返回事件码对应的订单状态，未知码默认 PENDING
func OrderStatusFor(code string) string {
	if s, ok := orderCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return s
	}
	return "PENDING"
}
