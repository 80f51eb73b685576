package provider

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		detail string
		want   Kind
	}{
		{"rate text", 400, "Rate exceeded", KindRateLimited},
		{"limit text", 403, "Daily LIMIT reached", KindRateLimited},
		{"quota text", 0, "quota exhausted", KindRateLimited},
		{"unauthorized", 401, "Key not found (HTTP 401)", KindAuthFailed},
		{"forbidden", 403, "IP not allowed", KindAuthFailed},
		{"server error", 502, "bad gateway", KindTransient},
		{"transport", 0, "dial tcp: connection refused", KindTransient},
		{"bad request", 400, "invalid sender", KindOther},
		{"429 without keywords", 429, "request failed with HTTP 429", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.detail); got != tt.want {
				t.Errorf("Classify(%d, %q) = %v, want %v", tt.status, tt.detail, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindOther:       "other",
		KindRateLimited: "rate_limited",
		KindAuthFailed:  "auth_failed",
		KindTransient:   "transient",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestFailureError(t *testing.T) {
	f := NewFailure(503, "upstream unavailable")
	if f.Error() != "upstream unavailable" {
		t.Errorf("Error() = %q", f.Error())
	}
	if f.Kind != KindTransient || f.StatusCode != 503 {
		t.Errorf("NewFailure() = %+v", f)
	}
}

func TestNormalize(t *testing.T) {
	msg := &Message{To: "user@example.com", Subject: "Hi", Text: "Hello"}

	got := msg.Normalize(Defaults{})
	if got.HTML != "<p>Hello</p>" {
		t.Errorf("HTML = %q, want <p>Hello</p>", got.HTML)
	}
	if got.SenderName != DefaultSenderName {
		t.Errorf("SenderName = %q, want %q", got.SenderName, DefaultSenderName)
	}
	if got.From != DefaultFrom {
		t.Errorf("From = %q, want %q", got.From, DefaultFrom)
	}
	if msg.HTML != "" || msg.From != "" {
		t.Error("Normalize() modified the original message")
	}

	got = msg.Normalize(Defaults{From: "alerts@falak.me", SenderName: "Falak"})
	if got.From != "alerts@falak.me" || got.SenderName != "Falak" {
		t.Errorf("configured defaults not applied: %+v", got)
	}

	explicit := &Message{To: "a@b.co", Text: "x", HTML: "<b>x</b>", From: "me@b.co", SenderName: "Me"}
	got = explicit.Normalize(Defaults{From: "alerts@falak.me", SenderName: "Falak"})
	if got.HTML != "<b>x</b>" || got.From != "me@b.co" || got.SenderName != "Me" {
		t.Errorf("explicit fields overwritten: %+v", got)
	}
}
