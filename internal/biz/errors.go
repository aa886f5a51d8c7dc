package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	"OrderRelay/pkg/ifood"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons produced by the pipeline itself.
const (
	ReasonValidation       = "ACK_VALIDATION_FAILED"
	ReasonRateLimited      = "RATE_LIMIT_EXCEEDED"
	ReasonCircuitOpen      = "CIRCUIT_OPEN"
	ReasonExhausted        = "ACK_RETRIES_EXHAUSTED"
	ReasonAlreadyRunning   = "SESSION_ALREADY_RUNNING"
	ReasonNotRunning       = "SESSION_NOT_RUNNING"
	ReasonSessionNotFound  = "SESSION_NOT_FOUND"
	ReasonNoCredential     = "NO_CREDENTIAL"
	ReasonNoMerchants      = "NO_MERCHANTS"
	ReasonAlertNotFound    = "ALERT_NOT_FOUND"
	ReasonUpstreamHTTP     = ifood.ReasonHTTPError
	ReasonUpstreamTimeout  = ifood.ReasonTimeout
	ReasonUpstreamDown     = ifood.ReasonUnreachable
	ReasonUpstreamDecoding = ifood.ReasonBadResponse
)

// ErrorKind is the explicit failure classification carried by every result.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknown
	KindValidation
	KindAuth
	KindRateLimited
	KindCircuitOpen
	KindClient
	KindTransient
	KindTimeout
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindClient:
		return "client"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Retryable reports whether the retry engine may repeat the call.
// Unknown errors default to retryable.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindUnknown:
		return true
	}
	return false
}

// ClassifyError maps an error to its kind: Kratos reason first, then the
// HTTP-like code, then context and network errors.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var kerr *errors.Error
	if stderrors.As(err, &kerr) {
		switch kerr.Reason {
		case ReasonValidation:
			return KindValidation
		case ReasonRateLimited:
			return KindRateLimited
		case ReasonCircuitOpen:
			return KindCircuitOpen
		case ReasonExhausted:
			return KindExhausted
		case ReasonNoCredential:
			return KindAuth
		case ReasonUpstreamTimeout:
			return KindTimeout
		case ReasonUpstreamDown, ReasonUpstreamDecoding:
			return KindTransient
		}
		return classifyCode(int(kerr.Code))
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

func classifyCode(code int) ErrorKind {
	switch {
	case code == 408 || code == 504:
		return KindTimeout
	case code == 429:
		return KindTransient
	case code == 401 || code == 403:
		return KindAuth
	case code == 400 || code == 422:
		return KindValidation
	case code >= 400 && code < 500:
		return KindClient
	case code >= 500:
		return KindTransient
	}
	return KindUnknown
}

func newValidationError(format string, args ...interface{}) error {
	return errors.New(400, ReasonValidation, fmt.Sprintf(format, args...))
}

func newRateLimitedError(sessionID string, status RateLimitStatus) error {
	return errors.New(429, ReasonRateLimited,
		fmt.Sprintf("rate limit exceeded for session %s: %d/%d requests, resets at %s",
			sessionID, status.RequestsInWindow, status.Limit, status.ResetAt.Format("15:04:05")))
}

func newCircuitOpenError(sessionID string) error {
	return errors.New(503, ReasonCircuitOpen, fmt.Sprintf("circuit open for session %s", sessionID))
}

func newExhaustedError(attempts int, last error) error {
	return errors.New(502, ReasonExhausted, fmt.Sprintf("max retry attempts (%d) exceeded, last error: %v", attempts, last))
}

var (
	ErrAlreadyRunning = errors.New(409, ReasonAlreadyRunning, "Polling already running")
	ErrNotRunning     = errors.New(404, ReasonNotRunning, "Polling is not running")
	ErrNoCredential   = errors.New(401, ReasonNoCredential, "No valid token")
	ErrNoMerchants    = errors.New(412, ReasonNoMerchants, "No merchants")
)

func newSessionNotFoundError(sessionID string) error {
	return errors.New(404, ReasonSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
}

func newAlertNotFoundError(id string) error {
	return errors.New(404, ReasonAlertNotFound, fmt.Sprintf("alert %s not found", id))
}
