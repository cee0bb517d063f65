package control

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/ingest/internal/metrics"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Control-Signature"

// WebhookPayload is the JSON body delivered to the external control system.
type WebhookPayload struct {
	ProjectID       shared.ID `json:"project_id"`
	ControlID       shared.ID `json:"control_id"`
	ControlName     string    `json:"control_name"`
	ControlStatusID shared.ID `json:"control_status_id"`
	Status          string    `json:"status"`
	Timestamp       string    `json:"timestamp"`
}

// DeliveryResult is the structured outcome of one webhook delivery. HTTP
// failures and transport failures never surface as errors; only broken
// inputs do.
type DeliveryResult struct {
	Success     bool
	StatusCode  int
	FailureType string
	Message     string
}

// WebhookClient delivers signed control notifications. Outbound deliveries
// share one rate limiter so a burst of triggers cannot flood external
// systems.
type WebhookClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWebhookClient creates a webhook client. ratePerSecond and burst bound
// outbound deliveries across all controls.
func NewWebhookClient(timeout time.Duration, ratePerSecond float64, burst int) *WebhookClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Deliver signs and posts the payload to the control's external URL.
func (c *WebhookClient) Deliver(ctx context.Context, control *Control, payload WebhookPayload) (*DeliveryResult, error) {
	if control.ExternalURL == "" {
		return nil, shared.NewDomainError("VALIDATION", "control has no external url", shared.ErrValidation)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal control payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, control.ExternalURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OpenCTEM-Ingest/1.0")
	req.Header.Set(SignatureHeader, Sign(control.SharedSecret, body))

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ControlDeliveryDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ControlDeliveriesTotal.WithLabelValues(FailureNetworkError).Inc()
		return &DeliveryResult{
			Success:     false,
			FailureType: FailureNetworkError,
			Message:     fmt.Sprintf("control webhook unreachable: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	// Bound the response read; external systems are untrusted.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ControlDeliveriesTotal.WithLabelValues(FailureHTTPError).Inc()
		return &DeliveryResult{
			Success:     false,
			StatusCode:  resp.StatusCode,
			FailureType: FailureHTTPError,
			Message:     fmt.Sprintf("control webhook returned status %d: %s", resp.StatusCode, truncate(string(respBody), 512)),
		}, nil
	}

	metrics.ControlDeliveriesTotal.WithLabelValues("success").Inc()
	return &DeliveryResult{Success: true, StatusCode: resp.StatusCode}, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body under the control's
// shared secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time. Used by
// callers that accept callbacks from external control systems.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
