package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotificationAPISend(t *testing.T) {
	var got notificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/client-1/sender" {
			t.Errorf("request = %s %s, want POST /client-1/sender", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "secret-1" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewNotificationAPI(NotificationAPIConfig{ClientID: "client-1", ClientSecret: "secret-1", BaseURL: srv.URL})
	msg := (&Message{To: "user@example.com", Subject: "Hi", Text: "Hello"}).Normalize(Defaults{})

	if f := p.Send(context.Background(), msg); f != nil {
		t.Fatalf("Send() = %v, want nil", f)
	}

	if got.Type != "mail_relay" {
		t.Errorf("type = %q, want mail_relay", got.Type)
	}
	if got.To.ID != "user@example.com" || got.To.Email != "user@example.com" {
		t.Errorf("to = %+v", got.To)
	}
	if got.Email.HTML != "<p>Hello</p>" || got.Email.SenderName != DefaultSenderName || got.Email.SenderEmail != DefaultFrom {
		t.Errorf("email = %+v", got.Email)
	}
}

func TestNotificationAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"message":"Rate limit exceeded"}`, KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Invalid client secret"}`, KindAuthFailed},
		{"server error", http.StatusInternalServerError, `oops`, KindTransient},
		{"bad request", http.StatusBadRequest, `{"message":"Invalid email"}`, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewNotificationAPI(NotificationAPIConfig{ClientID: "c", ClientSecret: "s", BaseURL: srv.URL})
			f := p.Send(context.Background(), &Message{To: "user@example.com"})
			if f == nil {
				t.Fatal("Send() = nil, want failure")
			}
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v (detail %q)", f.Kind, tt.wantKind, f.Detail)
			}
			if f.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", f.StatusCode, tt.status)
			}
		})
	}
}

func TestNotificationAPIMissingCredentials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := NewNotificationAPI(NotificationAPIConfig{ClientID: "only-id", BaseURL: srv.URL})
	f := p.Send(context.Background(), &Message{To: "user@example.com"})
	if f == nil || f.Detail != "NotificationAPI credentials not configured" {
		t.Fatalf("Send() = %v, want credentials failure", f)
	}
	if f.Kind != KindOther {
		t.Errorf("Kind = %v, want other", f.Kind)
	}
	if called {
		t.Error("network call made without credentials")
	}
}

func TestNotificationAPITransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewNotificationAPI(NotificationAPIConfig{ClientID: "c", ClientSecret: "s", BaseURL: url})
	f := p.Send(context.Background(), &Message{To: "user@example.com"})
	if f == nil || f.Kind != KindTransient {
		t.Fatalf("Send() = %+v, want transient failure", f)
	}
}
