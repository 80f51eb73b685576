package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/falak/mailrelay/internal/provider"
	"github.com/falak/mailrelay/internal/ratelimit"
	"github.com/falak/mailrelay/internal/storage"
)

// fakeProvider returns scripted results; the last one repeats
type fakeProvider struct {
	name    string
	display string
	results []*provider.Failure
	delay   time.Duration

	mu      sync.Mutex
	calls   int
	lastMsg *provider.Message
}

func (p *fakeProvider) Name() string        { return p.name }
func (p *fakeProvider) DisplayName() string { return p.display }

func (p *fakeProvider) Send(ctx context.Context, msg *provider.Message) *provider.Failure {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.lastMsg = msg
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return provider.NewFailure(0, ctx.Err().Error())
		}
	}

	if len(p.results) == 0 {
		return nil
	}
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i]
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// memLogs is an in-memory LogStore
type memLogs struct {
	mu   sync.Mutex
	logs []*storage.EmailLog
	err  error
}

func (m *memLogs) AddLog(ctx context.Context, l *storage.EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, l)
	return nil
}

func (m *memLogs) ListLogs(ctx context.Context, f storage.LogFilter) ([]*storage.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.EmailLog(nil), m.logs...), nil
}

func (m *memLogs) CountLogs(ctx context.Context, f storage.LogFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs), nil
}

func (m *memLogs) DeleteLog(ctx context.Context, id string) error { return nil }

func (m *memLogs) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memLogs) all() []*storage.EmailLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.EmailLog(nil), m.logs...)
}

type fixture struct {
	svc       *Service
	primary   *fakeProvider
	secondary *fakeProvider
	tracker   *ratelimit.Tracker
	logs      *memLogs
	now       *time.Time
}

func newFixture(t *testing.T, primary, secondary []*provider.Failure) *fixture {
	t.Helper()

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tracker := ratelimit.NewTracker(time.Minute)
	tracker.SetClock(func() time.Time { return now })

	f := &fixture{
		primary:   &fakeProvider{name: "notificationapi", display: "NotificationAPI", results: primary},
		secondary: &fakeProvider{name: "brevo", display: "Brevo", results: secondary},
		tracker:   tracker,
		logs:      &memLogs{},
		now:       &now,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.primary, f.secondary, tracker, f.logs, Config{
		Timeout:  time.Second,
		Defaults: provider.Defaults{From: "noreply@alerts.falak.me", SenderName: "Falak Mail Relay"},
	}, logger)
	f.svc.now = func() time.Time { return now }

	return f
}

func validRequest() *Request {
	return &Request{To: "user@example.com", Subject: "Hi", Body: "Hello"}
}

func TestSendPrimarySuccess(t *testing.T) {
	f := newFixture(t, nil, nil)

	res := f.svc.Send(context.Background(), validRequest(), "key-1")

	if !res.Success || res.Provider != "notificationapi" {
		t.Fatalf("Send() = %+v, want success via notificationapi", res)
	}
	if res.Message != "Email sent successfully via NotificationAPI" {
		t.Errorf("Message = %q", res.Message)
	}
	if f.secondary.Calls() != 0 {
		t.Errorf("secondary calls = %d, want 0", f.secondary.Calls())
	}

	logs := f.logs.all()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want exactly 1", len(logs))
	}
	l := logs[0]
	if l.ID != res.LogID || l.Status != storage.StatusSuccess || l.Provider != "notificationapi" {
		t.Errorf("log = %+v", l)
	}
	if l.APIKeyID != "key-1" || l.Recipient != "user@example.com" || l.Subject != "Hi" {
		t.Errorf("log fields = %+v", l)
	}
	if l.Sender != "noreply@alerts.falak.me" {
		t.Errorf("Sender = %q, want configured default", l.Sender)
	}
	if !l.Timestamp.Equal(*f.now) {
		t.Errorf("Timestamp = %v, want %v", l.Timestamp, *f.now)
	}
}

func TestSendAppliesDefaults(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.svc.Send(context.Background(), validRequest(), "")

	msg := f.primary.lastMsg
	if msg.HTML != "<p>Hello</p>" || msg.SenderName != "Falak Mail Relay" || msg.From != "noreply@alerts.falak.me" {
		t.Errorf("message defaults not applied: %+v", msg)
	}

	req := validRequest()
	req.From = "billing@falak.me"
	f.svc.Send(context.Background(), req, "")
	if got := f.logs.all()[1].Sender; got != "billing@falak.me" {
		t.Errorf("Sender = %q, want request from", got)
	}
}

func TestSendFallback(t *testing.T) {
	f := newFixture(t, []*provider.Failure{provider.NewFailure(400, "invalid template")}, nil)

	res := f.svc.Send(context.Background(), validRequest(), "")

	if !res.Success || res.Provider != "brevo" {
		t.Fatalf("Send() = %+v, want success via brevo", res)
	}
	if res.Message != "Email sent successfully via Brevo (fallback)" {
		t.Errorf("Message = %q", res.Message)
	}

	logs := f.logs.all()
	if len(logs) != 1 || logs[0].Status != storage.StatusFallback || logs[0].Provider != "brevo" {
		t.Fatalf("logs = %+v, want one fallback log for brevo", logs)
	}
	if logs[0].ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", logs[0].ErrorMessage)
	}
	if f.tracker.IsLimited("notificationapi") {
		t.Error("non rate limit failure started a backoff")
	}
}

func TestSendBothFail(t *testing.T) {
	f := newFixture(t,
		[]*provider.Failure{provider.NewFailure(0, "connection reset")},
		[]*provider.Failure{provider.NewFailure(401, "Key not found")},
	)

	res := f.svc.Send(context.Background(), validRequest(), "")

	if res.Success {
		t.Fatalf("Send() = %+v, want failure", res)
	}
	wantMsg := "Failed to send email. NotificationAPI: connection reset; Brevo: Key not found"
	if res.Message != wantMsg {
		t.Errorf("Message = %q, want %q", res.Message, wantMsg)
	}
	if res.Provider != "" {
		t.Errorf("Provider = %q, want empty on failure", res.Provider)
	}

	logs := f.logs.all()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want exactly 1", len(logs))
	}
	l := logs[0]
	if l.Status != storage.StatusFailed {
		t.Errorf("Status = %q, want failed", l.Status)
	}
	// Failures are attributed to the primary even though both were tried
	if l.Provider != "notificationapi" {
		t.Errorf("Provider = %q, want notificationapi", l.Provider)
	}
	if !strings.Contains(l.ErrorMessage, "connection reset") || !strings.Contains(l.ErrorMessage, "Key not found") {
		t.Errorf("ErrorMessage = %q, want both errors", l.ErrorMessage)
	}
	if l.ID != res.LogID {
		t.Errorf("log id = %q, result id = %q", l.ID, res.LogID)
	}
}

func TestRateLimitBackoffSkipsPrimary(t *testing.T) {
	f := newFixture(t, []*provider.Failure{provider.NewFailure(429, "Rate limit exceeded")}, nil)

	// First request hits the rate limit and starts the backoff
	res := f.svc.Send(context.Background(), validRequest(), "")
	if !res.Success || res.Provider != "brevo" {
		t.Fatalf("first Send() = %+v, want fallback", res)
	}
	if !f.tracker.IsLimited("notificationapi") {
		t.Fatal("primary not in backoff after rate limit")
	}

	// Five more requests within the window never call the primary
	for i := 0; i < 5; i++ {
		*f.now = f.now.Add(5 * time.Second)
		res := f.svc.Send(context.Background(), validRequest(), "")
		if !res.Success || res.Provider != "brevo" {
			t.Fatalf("Send() #%d = %+v, want fallback", i, res)
		}
	}

	if f.primary.Calls() != 1 {
		t.Errorf("primary calls = %d, want 1", f.primary.Calls())
	}
	if f.secondary.Calls() != 6 {
		t.Errorf("secondary calls = %d, want 6", f.secondary.Calls())
	}

	// Skipping does not extend the window
	until := f.tracker.Status("notificationapi").BackoffUntil
	want := time.Date(2026, 5, 4, 10, 1, 0, 0, time.UTC)
	if !until.Equal(want) {
		t.Errorf("BackoffUntil = %v, want %v", until, want)
	}

	// After the window the primary is tried again
	*f.now = want
	f.primary.results = nil
	res = f.svc.Send(context.Background(), validRequest(), "")
	if res.Provider != "notificationapi" {
		t.Errorf("Send() after backoff = %+v, want primary", res)
	}
}

func TestBackoffMessageWhenBothLimited(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.tracker.MarkLimited("notificationapi")
	f.tracker.MarkLimited("brevo")

	res := f.svc.Send(context.Background(), validRequest(), "")

	want := "Failed to send email. NotificationAPI: NotificationAPI rate limited, in backoff period; Brevo: Brevo rate limited, in backoff period"
	if res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if f.primary.Calls() != 0 || f.secondary.Calls() != 0 {
		t.Errorf("calls = %d/%d, want no network calls", f.primary.Calls(), f.secondary.Calls())
	}
	if len(f.logs.all()) != 1 {
		t.Errorf("logs = %d, want 1", len(f.logs.all()))
	}
}

func TestSecondaryRateLimitMarksSecondary(t *testing.T) {
	f := newFixture(t,
		[]*provider.Failure{provider.NewFailure(500, "boom")},
		[]*provider.Failure{provider.NewFailure(400, "daily quota exhausted")},
	)

	f.svc.Send(context.Background(), validRequest(), "")

	if f.tracker.IsLimited("notificationapi") {
		t.Error("primary marked limited on a transient failure")
	}
	if !f.tracker.IsLimited("brevo") {
		t.Error("secondary not marked limited on a quota failure")
	}
}

func TestLogWriteFailureKeepsResult(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.logs.err = errors.New("disk full")

	res := f.svc.Send(context.Background(), validRequest(), "")
	if !res.Success || res.LogID == "" {
		t.Errorf("Send() = %+v, want success with log id", res)
	}
}

func TestAttemptTimeout(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.primary.delay = time.Minute
	f.svc.cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	res := f.svc.Send(context.Background(), validRequest(), "")

	if time.Since(start) > 5*time.Second {
		t.Fatal("hung provider was not bounded by the attempt timeout")
	}
	if !res.Success || res.Provider != "brevo" {
		t.Errorf("Send() = %+v, want fallback after timeout", res)
	}
}

func TestSendIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.svc.Send(ctx, validRequest(), "")
	if !res.Success {
		t.Errorf("Send() = %+v, want success", res)
	}
}

func TestUniqueLogIDs(t *testing.T) {
	f := newFixture(t, nil, nil)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		res := f.svc.Send(context.Background(), validRequest(), "")
		if seen[res.LogID] {
			t.Fatalf("duplicate log id %s", res.LogID)
		}
		seen[res.LogID] = true
	}
}
