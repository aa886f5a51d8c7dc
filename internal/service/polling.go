package service

import (
	"context"
	"strings"

	"OrderRelay/internal/biz"
	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// SessionRequest addresses one polling session; SessionID is bound from the path.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// AcknowledgeAlertRequest carries the alert id from the path and the operator from the body.
type AcknowledgeAlertRequest struct {
	AlertID string `json:"alert_id"`
	By      string `json:"by"`
}

// Empty is the request of operations without input.
type Empty struct{}

// StopSessionReply 停止后返回最近 24 小时统计
type StopSessionReply struct {
	SessionID  string                   `json:"sessionId"`
	Message    string                   `json:"message"`
	Statistics *model.PollingStatistics `json:"statistics"`
}

type ListSessionsReply struct {
	Sessions []*model.SessionStatus `json:"sessions"`
	Total    int                    `json:"total"`
}

type EmergencyStopReply struct {
	Stopped int    `json:"stopped"`
	Message string `json:"message"`
}

// DrainReply wraps the drain outcome; Error is set when the drain stopped early.
type DrainReply struct {
	SessionID string `json:"sessionId"`
	*biz.DrainResult
	Error string `json:"error,omitempty"`
}

type RetryFailedReply struct {
	SessionID string `json:"sessionId"`
	Requeued  int64  `json:"requeued"`
}

type ListAlertsReply struct {
	Alerts     []*model.Alert        `json:"alerts"`
	Statistics model.AlertStatistics `json:"statistics"`
}

// PollingService exposes the session manager to operators.
type PollingService struct {
	sessions *biz.SessionManager
	alerts   *biz.AlertManager
	logger   *log.Helper
}

// NewPollingService creates a new PollingService instance.
func NewPollingService(sessions *biz.SessionManager, alerts *biz.AlertManager, logger log.Logger) *PollingService {
	return &PollingService{
		sessions: sessions,
		alerts:   alerts,
		logger:   log.NewHelper(logger),
	}
}

func sessionID(req *SessionRequest) (string, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return "", errors.BadRequest(biz.ReasonValidation, "session_id is required")
	}
	return id, nil
}

// StartSession starts polling for a session.
func (s *PollingService) StartSession(ctx context.Context, req *SessionRequest) (*model.SessionStatus, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "StartSession called", "session_id", id)

	st, err := s.sessions.Start(ctx, id)
	if err != nil {
		s.logger.Warnw("msg", "failed to start session", "session_id", id, "error", err)
		return nil, err
	}
	return st, nil
}

// StopSession stops polling for a session and returns its final statistics.
func (s *PollingService) StopSession(ctx context.Context, req *SessionRequest) (*StopSessionReply, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "StopSession called", "session_id", id)

	stats, err := s.sessions.Stop(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StopSessionReply{
		SessionID:  id,
		Message:    "Polling stopped",
		Statistics: stats,
	}, nil
}

func (s *PollingService) GetSessionStatus(_ context.Context, req *SessionRequest) (*model.SessionStatus, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	return s.sessions.Status(id)
}

func (s *PollingService) ListSessions(_ context.Context, _ *Empty) (*ListSessionsReply, error) {
	sessions := s.sessions.List()
	return &ListSessionsReply{Sessions: sessions, Total: len(sessions)}, nil
}

// EmergencyStopAll stops every running session at once.
func (s *PollingService) EmergencyStopAll(ctx context.Context, _ *Empty) (*EmergencyStopReply, error) {
	n := s.sessions.EmergencyStopAll(ctx)
	s.logger.Warnw("msg", "emergency stop requested", "stopped", n)
	return &EmergencyStopReply{Stopped: n, Message: "All polling sessions stopped"}, nil
}

func (s *PollingService) GetComplianceReport(ctx context.Context, req *SessionRequest) (*biz.ComplianceReport, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	return s.sessions.ComplianceReport(ctx, id)
}

// DrainPending acknowledges the whole pending backlog of a session.
func (s *PollingService) DrainPending(ctx context.Context, req *SessionRequest) (*DrainReply, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("msg", "DrainPending called", "session_id", id)

	res := s.sessions.ProcessAllPending(ctx, id)
	reply := &DrainReply{SessionID: id, DrainResult: res}
	if res.Err != nil {
		// 一个批次都没完成时直接返回错误
		if res.TotalBatches == 0 {
			return nil, res.Err
		}
		reply.Error = res.Err.Error()
	}
	return reply, nil
}

// RetryFailed requeues the terminally failed events of a session.
func (s *PollingService) RetryFailed(ctx context.Context, req *SessionRequest) (*RetryFailedReply, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	n, err := s.sessions.RetryFailed(ctx, id)
	if err != nil {
		s.logger.Errorw("msg", "failed to requeue failed events", "session_id", id, "error", err)
		return nil, err
	}
	return &RetryFailedReply{SessionID: id, Requeued: n}, nil
}

func (s *PollingService) ListAlerts(_ context.Context, _ *Empty) (*ListAlertsReply, error) {
	return &ListAlertsReply{
		Alerts:     s.alerts.Active(""),
		Statistics: s.alerts.Statistics(),
	}, nil
}

func (s *PollingService) AcknowledgeAlert(ctx context.Context, req *AcknowledgeAlertRequest) (*model.Alert, error) {
	if strings.TrimSpace(req.AlertID) == "" {
		return nil, errors.BadRequest(biz.ReasonValidation, "alert_id is required")
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = "operator"
	}
	return s.alerts.Acknowledge(ctx, req.AlertID, by)
}

func (s *PollingService) Health(ctx context.Context, _ *Empty) (*biz.HealthStatus, error) {
	return s.sessions.Health(ctx), nil
}
