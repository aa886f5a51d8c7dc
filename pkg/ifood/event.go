package ifood

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Event is an upstream event normalized into a fixed shape.
type Event struct {
	ID         string
	Code       string
	FullCode   string
	MerchantID string
	OrderID    string
	CreatedAt  time.Time
	Raw        json.RawMessage
}

var (
	ErrEmptyEventID  = errors.New("event id is empty")
	ErrUnsafeEventID = errors.New("event id contains unsafe characters")
	ErrEventIDLength = errors.New("event id too long")
)

const maxEventIDLength = 256

// ValidateEventID 校验事件 ID：非空、无控制字符、无标记字符
func ValidateEventID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyEventID
	}
	if len(id) > maxEventIDLength {
		return ErrEventIDLength
	}
	if strings.ContainsAny(id, "<>") || strings.Contains(strings.ToLower(id), "script") {
		return ErrUnsafeEventID
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ErrUnsafeEventID
		}
	}
	return nil
}

// DecodeEvents decodes a polling response. Entries without a valid id are
// skipped and counted in rejected.
func DecodeEvents(body []byte) (events []Event, rejected int, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, 0, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, 0, fmt.Errorf("expected JSON array: %w", err)
	}

	events = make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, ok := decodeEvent(raw)
		if !ok {
			rejected++
			continue
		}
		events = append(events, ev)
	}
	return events, rejected, nil
}

func decodeEvent(raw json.RawMessage) (Event, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, false
	}

	ev := Event{
		ID:         firstString(fields, "id", "eventId"),
		Code:       strings.ToUpper(firstString(fields, "code", "type")),
		FullCode:   firstString(fields, "fullCode"),
		MerchantID: firstString(fields, "merchantId"),
		OrderID:    firstString(fields, "orderId", "correlationId"),
		Raw:        append(json.RawMessage(nil), raw...),
	}
	if ev.MerchantID == "" {
		if m, ok := fields["merchant"].(map[string]interface{}); ok {
			ev.MerchantID = firstString(m, "id")
		}
	}
	if ev.Code == "" && ev.FullCode != "" {
		ev.Code = codeFromFullCode(ev.FullCode)
	}
	ev.CreatedAt = parseTimestamp(fields["createdAt"])

	if ValidateEventID(ev.ID) != nil {
		return Event{}, false
	}
	return ev, true
}

func firstString(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

var fullCodes = map[string]string{
	"PLACED":             "PLC",
	"CONFIRMED":          "CFM",
	"SEPARATION_STARTED": "SPS",
	"SEPARATION_ENDED":   "SPE",
	"READY_TO_PICKUP":    "RTP",
	"DISPATCHED":         "DSP",
	"CONCLUDED":          "CON",
	"CANCELLED":          "CAN",
}

func codeFromFullCode(fullCode string) string {
	if c, ok := fullCodes[strings.ToUpper(fullCode)]; ok {
		return c
	}
	return strings.ToUpper(fullCode)
}

// parseTimestamp accepts RFC3339 strings and epoch milliseconds.
func parseTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Time{}
}

// decodeAckFailures reads {"errors":[{"eventId"|"id": "...", "message": "..."}]}.
// An unparseable body means no per-id failures.
func decodeAckFailures(body []byte) map[string]string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	var payload struct {
		Errors []map[string]interface{} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Errors) == 0 {
		return nil
	}
	failed := make(map[string]string, len(payload.Errors))
	for _, e := range payload.Errors {
		id := firstString(e, "eventId", "id")
		if id == "" {
			continue
		}
		reason := firstString(e, "message", "code", "reason")
		if reason == "" {
			reason = "rejected by upstream"
		}
		failed[id] = reason
	}
	return failed
}
