// Package push delivers notifications to registered devices through an
// Expo-style push vendor. Delivery is explicitly best-effort: the gateway
// never fails its caller, because the in-app notification and dedup entry
// are already committed by the time a push is attempted. The one durable
// side effect it owns is token deactivation when the vendor reports a
// device gone.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultEndpoint is the Expo push service URL.
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// ChunkSize is the vendor's batch limit per request.
const ChunkSize = 100

// errDeviceNotRegistered is the vendor's per-ticket classification for a
// token whose device no longer exists. It is the only per-item failure with
// a durable consequence (token deactivation); everything else is logged and
// ignored.
const errDeviceNotRegistered = "DeviceNotRegistered"

// Message is one push notification addressed to a single device token.
type Message struct {
	To        string         `json:"to"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	Sound     string         `json:"sound,omitempty"`
}

// Result summarizes a Send call so callers and tests can assert on delivery
// outcomes without intercepting logs.
type Result struct {
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Malformed   int `json:"malformed"`
	Deactivated int `json:"deactivated"`
}

// ticket is one per-message receipt in the vendor response.
type ticket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// sendResponse is the vendor response envelope.
type sendResponse struct {
	Data []ticket `json:"data"`
}

// TokenDeactivator marks a device token inactive. Implemented by
// db.TokenRepository.
type TokenDeactivator interface {
	DeactivateByToken(ctx context.Context, token string) error
}

// Gateway sends chunked push requests to the vendor behind a circuit
// breaker. Transport failures trip the breaker; per-ticket failures do not,
// since the vendor answered.
type Gateway struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*sendResponse]
	tokens   TokenDeactivator
	logger   *slog.Logger
	sleepFn  func(time.Duration) // for testability; defaults to time.Sleep
}

// GatewayOption is a functional option for configuring a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient overrides the HTTP client (timeouts, transport).
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

// WithEndpoint overrides the vendor URL. Used by tests and local stubs.
func WithEndpoint(url string) GatewayOption {
	return func(g *Gateway) { g.endpoint = url }
}

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) GatewayOption {
	return func(g *Gateway) { g.sleepFn = fn }
}

// NewGateway creates a push Gateway. A nil logger falls back to
// slog.Default().
func NewGateway(tokens TokenDeactivator, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*sendResponse](gobreaker.Settings{
		Name:        "expo-push",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	g := &Gateway{
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		breaker:  cb,
		tokens:   tokens,
		logger:   logger,
		sleepFn:  time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send delivers the messages in vendor-sized chunks. It never returns an
// error: malformed tokens are dropped up front, transport failures mark the
// whole chunk failed, and per-ticket failures are inspected only for the
// DeviceNotRegistered classification, which deactivates the corresponding
// token. Counters for every outcome come back in the Result.
func (g *Gateway) Send(ctx context.Context, messages []Message) Result {
	var result Result

	valid := messages[:0:0]
	for _, m := range messages {
		if !IsValidToken(m.To) {
			result.Malformed++
			g.logger.WarnContext(ctx, "dropping push message with malformed token",
				"token_prefix", tokenPrefix(m.To),
			)
			continue
		}
		valid = append(valid, m)
	}

	for start := 0; start < len(valid); start += ChunkSize {
		end := start + ChunkSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]

		resp, err := g.sendChunk(ctx, chunk)
		if err != nil {
			// Transport-level failure: the whole chunk is unaccounted for.
			// Push is best-effort, so log and move on.
			result.Failed += len(chunk)
			g.logger.ErrorContext(ctx, "push chunk send failed",
				"chunk_size", len(chunk),
				"error", err,
			)
			continue
		}

		g.applyTickets(ctx, chunk, resp.Data, &result)
	}

	return result
}

// applyTickets walks the per-message receipts. Tickets correspond
// positionally to the chunk's messages.
func (g *Gateway) applyTickets(ctx context.Context, chunk []Message, tickets []ticket, result *Result) {
	for i, t := range tickets {
		if i >= len(chunk) {
			break
		}
		if t.Status == "ok" {
			result.Sent++
			continue
		}

		result.Failed++
		if t.Details.Error != errDeviceNotRegistered {
			g.logger.WarnContext(ctx, "push ticket error",
				"error", t.Details.Error,
				"message", t.Message,
			)
			continue
		}

		// Device gone: deactivate the token so we stop addressing it.
		// Failure to deactivate is logged and retried naturally on the next
		// send that hits the same ticket.
		if err := g.tokens.DeactivateByToken(ctx, chunk[i].To); err != nil {
			g.logger.ErrorContext(ctx, "failed to deactivate unregistered token",
				"token_prefix", tokenPrefix(chunk[i].To),
				"error", err,
			)
			continue
		}
		result.Deactivated++
		g.logger.InfoContext(ctx, "deactivated unregistered push token",
			"token_prefix", tokenPrefix(chunk[i].To),
		)
	}

	if len(tickets) < len(chunk) {
		g.logger.WarnContext(ctx, "vendor returned fewer tickets than messages",
			"messages", len(chunk),
			"tickets", len(tickets),
		)
	}
}

// maxSendAttempts bounds retries on 429/5xx per chunk.
const maxSendAttempts = 3

// sendChunk issues one vendor request through the circuit breaker, retrying
// on 429/5xx with backoff and honoring Retry-After when present.
func (g *Gateway) sendChunk(ctx context.Context, chunk []Message) (*sendResponse, error) {
	body, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshaling push chunk: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			g.sleepFn(backoff(attempt))
		}

		resp, err := g.breaker.Execute(func() (*sendResponse, error) {
			return g.doRequest(ctx, body)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || isBreakerOpen(err) {
			break
		}
		var rErr *retryableError
		if errors.As(err, &rErr) && rErr.retryAfter > 0 {
			g.sleepFn(rErr.retryAfter)
		}
	}

	return nil, lastErr
}

func (g *Gateway) doRequest(ctx context.Context, body []byte) (*sendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &retryableError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("push vendor returned %d: %s", resp.StatusCode, string(data))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding push response: %w", err)
	}
	return &out, nil
}

// retryableError marks a 429/5xx vendor status.
type retryableError struct {
	status     int
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("push vendor returned %d", e.status)
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// backoff returns the pre-attempt delay: 500ms, 1s, 2s...
func backoff(attempt int) time.Duration {
	return 500 * time.Millisecond << (attempt - 1)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsValidToken reports whether the token looks like an Expo push token.
// Malformed recipients are filtered before sending; one bad token must not
// poison a whole chunk.
func IsValidToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") ||
		strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// tokenPrefix returns a short, log-safe prefix of a device token.
func tokenPrefix(token string) string {
	if len(token) <= 24 {
		return token
	}
	return token[:24] + "..."
}
