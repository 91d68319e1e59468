package alert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

func testOptions(attempts int) Options {
	return Options{
		Retry: RetryPolicy{MaxAttempts: attempts, Base: time.Millisecond, Max: 5 * time.Millisecond},
		Log:   zerolog.Nop(),
	}
}

// recordSleeps swaps the poster's sleep for a recorder so tests stay fast.
func recordSleeps(p *poster) *[]time.Duration {
	var mu sync.Mutex
	var got []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
		return nil
	}
	p.jitter = func() float64 { return 0 }
	return &got
}

func TestTelegramSendSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42", srv.URL, testOptions(3))
	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "hello" || got["disable_web_page_preview"] != true {
		t.Errorf("payload = %v", got)
	}
}

func TestRetryBoundOnPersistent429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("T", "1", srv.URL, testOptions(4))
	sleeps := recordSleeps(tg.poster)

	err := tg.Send(context.Background(), "x")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Errorf("err should carry the last status: %v", err)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("attempts = %d, want exactly 4", n)
	}
	if len(*sleeps) != 3 {
		t.Errorf("sleeps = %d, want 3 (none after the final attempt)", len(*sleeps))
	}
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"parameters":{"retry_after":7}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	opts := testOptions(3)
	opts.Retry.Max = 30 * time.Second
	tg := NewTelegram("T", "1", srv.URL, opts)
	sleeps := recordSleeps(tg.poster)

	if err := tg.Send(context.Background(), "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want [7s]", *sleeps)
	}
}

func TestTerminalClientError(t *testing.T) {
	var calls atomic.Int32
	long := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(long))
	}))
	defer srv.Close()

	tg := NewTelegram("T", "1", srv.URL, testOptions(3))
	recordSleeps(tg.poster)

	err := tg.Send(context.Background(), "x")
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
	var se *HTTPStatusError
	if !errors.As(err, &se) || len(se.Body) != bodyPreviewLimit {
		t.Errorf("body preview not capped at %d: %v", bodyPreviewLimit, err)
	}
}

func TestTelegramOKFalseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("T", "1", srv.URL, testOptions(3))
	if err := tg.Send(context.Background(), "x"); !errors.Is(err, ErrTerminal) {
		t.Errorf("err = %v, want ErrTerminal", err)
	}
}

func TestServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, testOptions(3))
	sleeps := recordSleeps(s.poster)
	if err := s.Send(context.Background(), "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := testOptions(5)
	opts.Retry.Base = time.Hour
	opts.Retry.Max = time.Hour
	d := NewDiscord(srv.URL, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.Send(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff did not honour cancellation")
	}
}

func TestRetryDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: 2 * time.Second, Max: 30 * time.Second, Jitter: 600 * time.Millisecond}

	tests := []struct {
		attempt    int
		retryAfter time.Duration
		jitter     float64
		want       time.Duration
	}{
		{1, 0, 0, 2 * time.Second},
		{2, 0, 0, 4 * time.Second},
		{3, 0, 0.5, 8*time.Second + 300*time.Millisecond},
		{5, 0, 0, 30 * time.Second},
		{1, 10 * time.Second, 0, 10 * time.Second},
		{1, time.Minute, 1, 30*time.Second + 600*time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt, tt.retryAfter, tt.jitter); got != tt.want {
			t.Errorf("Delay(%d, %v, %v) = %v, want %v", tt.attempt, tt.retryAfter, tt.jitter, got, tt.want)
		}
	}
}

func TestWebhookSignature(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret", testOptions(1))
	if err := wh.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sig != "sha256="+Sign("s3cret", body) {
		t.Errorf("signature %q does not match body", sig)
	}
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Text != "hello" {
		t.Errorf("payload = %s (%v)", body, err)
	}
}

func TestDiscordTruncatesContent(t *testing.T) {
	var got struct {
		Content string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, testOptions(1))
	if err := d.Send(context.Background(), strings.Repeat("界", 2500)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len([]rune(got.Content)); n != discordContentLimit {
		t.Errorf("content runes = %d, want %d", n, discordContentLimit)
	}
	if !strings.HasSuffix(got.Content, "...") {
		t.Error("truncated content should end with ...")
	}
}

func TestNewFallsBackToStdout(t *testing.T) {
	tests := []Selection{
		{Channel: "telegram"},
		{Channel: "telegram", TelegramToken: "t"},
		{Channel: "slack"},
		{Channel: "stdout"},
	}
	for _, sel := range tests {
		ch := New(sel, testOptions(1))
		if _, ok := ch.(*Stdout); !ok {
			t.Errorf("%+v: channel = %T, want *Stdout", sel, ch)
		}
		if err := ch.Send(context.Background(), "sanity"); err != nil {
			t.Errorf("%+v: stdout send failed: %v", sel, err)
		}
	}

	ch := New(Selection{Channel: "telegram", TelegramToken: "t", TelegramChatID: "1"}, testOptions(1))
	if g, ok := ch.(*Guarded); !ok || g.Name() != "telegram" {
		t.Errorf("channel = %T, want guarded telegram", ch)
	}
}

type failingChannel struct {
	calls atomic.Int32
}

func (f *failingChannel) Name() string { return "flaky" }
func (f *failingChannel) Send(context.Context, string) error {
	f.calls.Add(1)
	return ErrExhausted
}
func (f *failingChannel) Close() error { return nil }

func TestGuardedOpensAndFallsBack(t *testing.T) {
	primary := &failingChannel{}
	var buf bytes.Buffer
	g := NewGuardedWith(primary, NewStdout(&buf), BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Send(ctx, "x"); !errors.Is(err, ErrExhausted) {
			t.Fatalf("send %d: err = %v", i, err)
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	if err := g.Send(ctx, "while open"); err != nil {
		t.Fatalf("fallback send: %v", err)
	}
	if primary.calls.Load() != 2 {
		t.Errorf("primary called %d times, want 2", primary.calls.Load())
	}
	if !strings.Contains(buf.String(), "while open") {
		t.Errorf("fallback output = %q", buf.String())
	}

	g.fallback = nil
	if err := g.Send(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
