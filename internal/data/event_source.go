package data

import (
	"context"
	stderrors "errors"
	"fmt"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	"OrderRelay/pkg/ifood"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// EventSource adapts the iFood client to biz.EventSource. Upstream failures
// become Kratos errors so the pipeline can classify them by reason and code.
type EventSource struct {
	client *ifood.Client
	logger *log.Helper
}

// NewEventSource builds the upstream client from configuration.
func NewEventSource(c *conf.Upstream, pc *conf.Polling, ac *conf.Acknowledgment, logger log.Logger) (*EventSource, error) {
	if c == nil {
		return nil, fmt.Errorf("upstream configuration is required")
	}
	cfg := ifood.Config{
		BaseURL:    c.BaseURL,
		EventTypes: c.EventTypes,
		Categories: c.Categories,
		ProxyURL:   c.ProxyURL,
		UserAgent:  c.UserAgent,
	}
	if pc != nil {
		cfg.PollTimeout = pc.Timeout
	}
	if ac != nil {
		cfg.AckTimeout = ac.Timeout
	}
	client, err := ifood.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return newEventSource(client, logger), nil
}

func newEventSource(client *ifood.Client, logger log.Logger) *EventSource {
	return &EventSource{
		client: client,
		logger: log.NewHelper(logger),
	}
}

// Poll fetches new events and normalizes them.
func (s *EventSource) Poll(ctx context.Context, token string, merchantIDs []string) (*model.PollResult, error) {
	r, err := s.client.Poll(ctx, token, merchantIDs)
	var out *model.PollResult
	if r != nil {
		out = &model.PollResult{StatusCode: r.StatusCode, Latency: r.Latency, Rejected: r.Rejected}
	}
	if err != nil {
		return out, upstreamError(err)
	}

	out.Events = make([]*model.Event, 0, len(r.Events))
	for _, e := range r.Events {
		out.Events = append(out.Events, toModelEvent(e))
	}
	if out.Rejected > 0 {
		s.logger.Warnw("msg", "poll response contained unusable events", "rejected", out.Rejected, "accepted", len(out.Events))
	}
	return out, nil
}

// Acknowledge confirms receipt of the given events.
func (s *EventSource) Acknowledge(ctx context.Context, token string, eventIDs []string) (*model.AckResponse, error) {
	r, err := s.client.Acknowledge(ctx, token, eventIDs)
	var out *model.AckResponse
	if r != nil {
		out = &model.AckResponse{StatusCode: r.StatusCode, Latency: r.Latency, Failed: r.Failed, Raw: r.Raw}
	}
	if err != nil {
		return out, upstreamError(err)
	}
	return out, nil
}

func toModelEvent(e ifood.Event) *model.Event {
	category := model.CategorizeEvent(e.Code)
	return &model.Event{
		ID:          e.ID,
		MerchantID:  e.MerchantID,
		OrderID:     e.OrderID,
		Code:        e.Code,
		FullCode:    e.FullCode,
		Category:    category,
		OrderStatus: model.OrderStatusFor(e.Code),
		Payload:     e.Raw,
		CreatedAt:   e.CreatedAt,
		AckStatus:   model.AckPending,
	}
}

// upstreamError keeps the upstream status code on HTTP failures; transport
// failures become 504 (timeout) or 503.
func upstreamError(err error) error {
	var apiErr *ifood.APIError
	if stderrors.As(err, &apiErr) {
		return errors.New(apiErr.StatusCode, ifood.ReasonHTTPError, apiErr.Error()).WithCause(err)
	}
	var te *ifood.TransportError
	if stderrors.As(err, &te) {
		if te.Timeout() {
			return errors.New(504, ifood.ReasonTimeout, te.Error()).WithCause(err)
		}
		return errors.New(503, ifood.ReasonUnreachable, te.Error()).WithCause(err)
	}
	if ifood.IsTimeout(err) {
		return errors.New(504, ifood.ReasonTimeout, err.Error()).WithCause(err)
	}
	return errors.New(502, ifood.ReasonBadResponse, err.Error()).WithCause(err)
}
