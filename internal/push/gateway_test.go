package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func noopSleep(time.Duration) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Helpers: fake deactivator and a gateway pointed at an httptest server
// ---------------------------------------------------------------------------

type fakeDeactivator struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (d *fakeDeactivator) DeactivateByToken(_ context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tokens = append(d.tokens, token)
	return nil
}

func newTestGateway(t *testing.T, serverURL string, deact *fakeDeactivator) *Gateway {
	t.Helper()
	return NewGateway(deact, discardLogger(),
		WithEndpoint(serverURL),
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		WithSleepFunc(noopSleep),
	)
}

func okTickets(n int) sendResponse {
	resp := sendResponse{}
	for i := 0; i < n; i++ {
		resp.Data = append(resp.Data, ticket{Status: "ok", ID: "ticket"})
	}
	return resp
}

// ---------------------------------------------------------------------------
// Send - success path
// ---------------------------------------------------------------------------

func TestSend_Success(t *testing.T) {
	var receivedMessages []Message
	var receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		receivedContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&receivedMessages); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(okTickets(len(receivedMessages)))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	result := g.Send(context.Background(), []Message{
		{To: "ExponentPushToken[aaa]", Title: "Upcoming event", Body: "Standup starts in 30 minutes."},
		{To: "ExpoPushToken[bbb]", Title: "Your daily digest", Body: "Coming up this week."},
	})

	if result.Sent != 2 || result.Failed != 0 || result.Malformed != 0 {
		t.Errorf("got %+v, want Sent=2", result)
	}
	if len(receivedMessages) != 2 {
		t.Fatalf("server received %d messages, want 2", len(receivedMessages))
	}
	if receivedMessages[0].To != "ExponentPushToken[aaa]" {
		t.Errorf("first message addressed to %q", receivedMessages[0].To)
	}
	if receivedContentType != "application/json" {
		t.Errorf("got Content-Type %q", receivedContentType)
	}
}

func TestSend_EmptyInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})
	result := g.Send(context.Background(), nil)
	if result != (Result{}) {
		t.Errorf("got %+v, want zero result", result)
	}
}

// ---------------------------------------------------------------------------
// Send - token hygiene
// ---------------------------------------------------------------------------

func TestSend_MalformedTokensFilteredBeforeSending(t *testing.T) {
	var receivedMessages []Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&receivedMessages); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(okTickets(len(receivedMessages)))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	result := g.Send(context.Background(), []Message{
		{To: "ExponentPushToken[good]"},
		{To: "not-a-token"},
		{To: "ExponentPushToken[unterminated"},
	})

	if result.Sent != 1 || result.Malformed != 2 {
		t.Errorf("got %+v, want Sent=1 Malformed=2", result)
	}
	if len(receivedMessages) != 1 {
		t.Errorf("server received %d messages, want 1", len(receivedMessages))
	}
}

func TestSend_DeviceNotRegisteredDeactivatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := sendResponse{Data: []ticket{
			{Status: "ok"},
			{Status: "error", Message: "device gone"},
		}}
		resp.Data[1].Details.Error = errDeviceNotRegistered
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	deact := &fakeDeactivator{}
	g := newTestGateway(t, server.URL, deact)

	result := g.Send(context.Background(), []Message{
		{To: "ExponentPushToken[alive]"},
		{To: "ExponentPushToken[gone]"},
	})

	if result.Sent != 1 || result.Failed != 1 || result.Deactivated != 1 {
		t.Errorf("got %+v, want Sent=1 Failed=1 Deactivated=1", result)
	}
	if len(deact.tokens) != 1 || deact.tokens[0] != "ExponentPushToken[gone]" {
		t.Errorf("deactivated tokens = %v, want the gone token only", deact.tokens)
	}
}

func TestSend_OtherTicketErrorsDoNotDeactivate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := sendResponse{Data: []ticket{{Status: "error", Message: "rate limited"}}}
		resp.Data[0].Details.Error = "MessageRateExceeded"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	deact := &fakeDeactivator{}
	g := newTestGateway(t, server.URL, deact)

	result := g.Send(context.Background(), []Message{{To: "ExponentPushToken[aaa]"}})
	if result.Failed != 1 || result.Deactivated != 0 {
		t.Errorf("got %+v, want Failed=1 Deactivated=0", result)
	}
	if len(deact.tokens) != 0 {
		t.Errorf("unexpected deactivations: %v", deact.tokens)
	}
}

func TestSend_DeactivationFailureDoesNotCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := sendResponse{Data: []ticket{{Status: "error"}}}
		resp.Data[0].Details.Error = errDeviceNotRegistered
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	deact := &fakeDeactivator{err: errors.New("connection refused")}
	g := newTestGateway(t, server.URL, deact)

	result := g.Send(context.Background(), []Message{{To: "ExponentPushToken[gone]"}})
	if result.Deactivated != 0 {
		t.Errorf("got Deactivated=%d, want 0 when the deactivation write fails", result.Deactivated)
	}
}

// ---------------------------------------------------------------------------
// Send - chunking
// ---------------------------------------------------------------------------

func TestSend_ChunksAtVendorLimit(t *testing.T) {
	var chunkSizes []int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msgs []Message
		if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		mu.Lock()
		chunkSizes = append(chunkSizes, len(msgs))
		mu.Unlock()
		json.NewEncoder(w).Encode(okTickets(len(msgs)))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	messages := make([]Message, 150)
	for i := range messages {
		messages[i] = Message{To: "ExponentPushToken[aaa]"}
	}

	result := g.Send(context.Background(), messages)
	if result.Sent != 150 {
		t.Errorf("got Sent=%d, want 150", result.Sent)
	}
	if len(chunkSizes) != 2 || chunkSizes[0] != 100 || chunkSizes[1] != 50 {
		t.Errorf("got chunk sizes %v, want [100 50]", chunkSizes)
	}
}

// ---------------------------------------------------------------------------
// Send - transport failures and retries
// ---------------------------------------------------------------------------

func TestSend_TransportFailureMarksChunkFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	result := g.Send(context.Background(), []Message{
		{To: "ExponentPushToken[aaa]"},
		{To: "ExponentPushToken[bbb]"},
	})
	if result.Failed != 2 || result.Sent != 0 {
		t.Errorf("got %+v, want Failed=2", result)
	}
}

func TestSend_RetriesServerErrorThenSucceeds(t *testing.T) {
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(okTickets(1))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	result := g.Send(context.Background(), []Message{{To: "ExponentPushToken[aaa]"}})
	if result.Sent != 1 {
		t.Errorf("got %+v, want Sent=1 after retry", result)
	}
	if attempts != 2 {
		t.Errorf("got %d attempts, want 2", attempts)
	}
}

func TestSend_HonorsRetryAfterHeader(t *testing.T) {
	var attempts int
	var sleeps []time.Duration

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(okTickets(1))
	}))
	defer server.Close()

	deact := &fakeDeactivator{}
	g := NewGateway(deact, discardLogger(),
		WithEndpoint(server.URL),
		WithSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)

	result := g.Send(context.Background(), []Message{{To: "ExponentPushToken[aaa]"}})
	if result.Sent != 1 {
		t.Errorf("got %+v, want Sent=1", result)
	}

	var sawRetryAfter bool
	for _, d := range sleeps {
		if d == 2*time.Second {
			sawRetryAfter = true
		}
	}
	if !sawRetryAfter {
		t.Errorf("sleeps %v do not include the 2s Retry-After delay", sleeps)
	}
}

func TestSend_NonRetryableStatusFailsChunk(t *testing.T) {
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"VALIDATION_ERROR"}]}`))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &fakeDeactivator{})

	result := g.Send(context.Background(), []Message{{To: "ExponentPushToken[aaa]"}})
	if result.Failed != 1 {
		t.Errorf("got %+v, want Failed=1", result)
	}
}

// ---------------------------------------------------------------------------
// Token validation
// ---------------------------------------------------------------------------

func TestIsValidToken(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[xxxxxxxx]", true},
		{"ExpoPushToken[xxxxxxxx]", true},
		{"ExponentPushToken[", false},
		{"ExponentPushToken", false},
		{"fcm-token-12345", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsValidToken(tc.token); got != tc.want {
			t.Errorf("IsValidToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}
