package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// apiError mirrors the Kratos error body.
type apiError struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Code, e.Reason, e.Message)
}

type client struct {
	server  string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
}

func newClient(server, token string, timeout time.Duration, dial fasthttp.DialFunc) *client {
	return &client{
		server:  strings.TrimRight(server, "/"),
		token:   token,
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                     "pollctl",
			Dial:                     dial,
			NoDefaultUserAgentHeader: true,
		},
	}
}

// do sends the request and returns the raw JSON body of a 2xx reply.
func (c *client) do(method, path string, body interface{}) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.server + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	if status < 200 || status >= 300 {
		apiErr := &apiError{Code: status}
		if err := json.Unmarshal(out, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(out))
		}
		apiErr.Code = status
		return nil, apiErr
	}
	return out, nil
}

// prettyJSON re-indents a reply for terminal output.
func prettyJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}\n"), nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
