package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationStartSession        = "/orderrelay.v1.PollingService/StartSession"
	OperationStopSession         = "/orderrelay.v1.PollingService/StopSession"
	OperationGetSessionStatus    = "/orderrelay.v1.PollingService/GetSessionStatus"
	OperationListSessions        = "/orderrelay.v1.PollingService/ListSessions"
	OperationEmergencyStopAll    = "/orderrelay.v1.PollingService/EmergencyStopAll"
	OperationGetComplianceReport = "/orderrelay.v1.PollingService/GetComplianceReport"
	OperationDrainPending        = "/orderrelay.v1.PollingService/DrainPending"
	OperationRetryFailed         = "/orderrelay.v1.PollingService/RetryFailed"
	OperationListAlerts          = "/orderrelay.v1.PollingService/ListAlerts"
	OperationAcknowledgeAlert    = "/orderrelay.v1.PollingService/AcknowledgeAlert"
	OperationHealth              = "/orderrelay.v1.PollingService/Health"
)

// RegisterPollingHTTPServer mounts the control surface routes on srv.
func RegisterPollingHTTPServer(s *http.Server, srv *PollingService) {
	r := s.Route("/")
	r.POST("/api/v1/sessions:emergency-stop", handle(OperationEmergencyStopAll, bindNone, srv.EmergencyStopAll))
	r.GET("/api/v1/sessions", handle(OperationListSessions, bindNone, srv.ListSessions))
	r.POST("/api/v1/sessions/{session_id}/start", handle(OperationStartSession, bindVars[SessionRequest], srv.StartSession))
	r.POST("/api/v1/sessions/{session_id}/stop", handle(OperationStopSession, bindVars[SessionRequest], srv.StopSession))
	r.GET("/api/v1/sessions/{session_id}/compliance", handle(OperationGetComplianceReport, bindVars[SessionRequest], srv.GetComplianceReport))
	r.POST("/api/v1/sessions/{session_id}/acknowledgments:drain", handle(OperationDrainPending, bindVars[SessionRequest], srv.DrainPending))
	r.POST("/api/v1/sessions/{session_id}/acknowledgments:retry-failed", handle(OperationRetryFailed, bindVars[SessionRequest], srv.RetryFailed))
	r.GET("/api/v1/sessions/{session_id}", handle(OperationGetSessionStatus, bindVars[SessionRequest], srv.GetSessionStatus))
	r.GET("/api/v1/alerts", handle(OperationListAlerts, bindNone, srv.ListAlerts))
	r.POST("/api/v1/alerts/{alert_id}/acknowledge", handle(OperationAcknowledgeAlert, bindBodyAndVars[AcknowledgeAlertRequest], srv.AcknowledgeAlert))
	r.GET("/health", handle(OperationHealth, bindNone, srv.Health))
}

func bindNone(_ http.Context) (*Empty, error) {
	return &Empty{}, nil
}

func bindVars[T any](ctx http.Context) (*T, error) {
	var in T
	if err := ctx.BindVars(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// bindBodyAndVars 允许空 body
func bindBodyAndVars[T any](ctx http.Context) (*T, error) {
	var in T
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&in); err != nil {
			return nil, err
		}
	}
	if err := ctx.BindVars(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// handle runs fn through the server middleware chain, the way generated
// Kratos HTTP handlers do.
func handle[Req, Reply any](operation string, bind func(http.Context) (*Req, error), fn func(context.Context, *Req) (*Reply, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		in, err := bind(ctx)
		if err != nil {
			return err
		}
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		})
		out, err := h(ctx, in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
