package ifood

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/valyala/fasthttp"
)

// Reasons used when upstream failures are surfaced as Kratos errors.
const (
	ReasonHTTPError   = "UPSTREAM_HTTP_ERROR"
	ReasonTimeout     = "UPSTREAM_TIMEOUT"
	ReasonUnreachable = "UPSTREAM_UNREACHABLE"
	ReasonBadResponse = "UPSTREAM_BAD_RESPONSE"
)

// APIError is a non-success HTTP status from the upstream.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ifood %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func newAPIError(endpoint string, resp *fasthttp.Response) *APIError {
	return &APIError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode(),
		Body:       truncate(string(resp.Body()), 512),
	}
}

// TransportError means no HTTP status was obtained (dial, timeout, reset).
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ifood %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, fasthttp.ErrTimeout) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsTimeout 判断是否为超时错误
func IsTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
