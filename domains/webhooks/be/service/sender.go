package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clearops/clearops-gateway/platform/go/signature"
)

// maxResponseBody caps how much of the destination's response is stored
// on the delivery row.
const maxResponseBody = 1000

const userAgent = "clearops-gateway/1.0"

// Outbound headers consumed by webhook receivers.
const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

// Result holds what one outbound call produced. StatusCode 0 means the
// call never produced an HTTP response (transport failure).
type Result struct {
	StatusCode int
	Response   string
	Error      string
	LatencyMs  int64
}

// Sender performs the signed HTTP delivery of one payload.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender whose calls are bounded by timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts body to url, signed with the subscription secret. The raw
// body bytes are signed exactly as sent so receivers can verify before
// parsing.
func (s *Sender) Send(ctx context.Context, url, secret, event string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, signature.Sign(body, secret))
	req.Header.Set(EventHeader, event)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: latency,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  latency,
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  latency,
	}
}
