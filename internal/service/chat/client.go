package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout matches the ISO-8601 form browsers produce with toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Request is the body posted to the assistant endpoint.
type Request struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// NewRequest stamps a request with the given time in UTC.
func NewRequest(message, username string, at time.Time) Request {
	return Request{
		Message:   message,
		Username:  username,
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

// ErrorKind classifies a failed exchange.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindStatus      ErrorKind = "status"
	KindMalformed   ErrorKind = "malformed"
	KindRejected    ErrorKind = "rejected"
)

// ExchangeError describes why the assistant did not answer.
type ExchangeError struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat exchange %s (HTTP %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("chat exchange %s: %s", e.Kind, e.Detail)
}

// Result is either a reply or an ExchangeError, never both.
type Result struct {
	Response string
	Err      *ExchangeError
}

// OK reports whether the exchange produced a reply.
func (r Result) OK() bool { return r.Err == nil }

func succeeded(response string) Result { return Result{Response: response} }

func failed(kind ErrorKind, status int, detail string) Result {
	return Result{Err: &ExchangeError{Kind: kind, Status: status, Detail: detail}}
}

// Exchanger sends one user message to the assistant and waits for the answer.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) Result
}

type replyBody struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

// HTTPClient posts requests to an assistant endpoint speaking the /api/chat contract.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client. The request context is the only deadline; hc
// should not carry its own timeout.
func NewHTTPClient(endpoint string, hc *http.Client, logger *zap.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{endpoint: endpoint, http: hc, logger: logger}
}

// Exchange performs a single POST. It never retries.
func (c *HTTPClient) Exchange(ctx context.Context, req Request) Result {
	payload, err := json.Marshal(req)
	if err != nil {
		return failed(KindMalformed, 0, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return failed(KindTransport, 0, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("chat endpoint unreachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return failed(KindTransport, 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(KindTransport, resp.StatusCode, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("chat endpoint returned error status", zap.Int("status", resp.StatusCode))
		return classifyStatus(resp.StatusCode, body)
	}

	var reply replyBody
	if err := json.Unmarshal(body, &reply); err != nil {
		return failed(KindMalformed, resp.StatusCode, err.Error())
	}
	if !reply.Success || strings.TrimSpace(reply.Response) == "" {
		detail := reply.Error
		if detail == "" {
			detail = "Unknown error"
		}
		return failed(KindRejected, resp.StatusCode, detail)
	}
	return succeeded(reply.Response)
}

func classifyStatus(status int, body []byte) Result {
	detail := fmt.Sprintf("HTTP %d", status)
	var reply replyBody
	if json.Unmarshal(body, &reply) == nil && reply.Error != "" {
		detail = reply.Error
	}
	switch status {
	case http.StatusRequestTimeout:
		return failed(KindTimeout, status, detail)
	case http.StatusServiceUnavailable:
		return failed(KindUnavailable, status, detail)
	default:
		return failed(KindStatus, status, detail)
	}
}
