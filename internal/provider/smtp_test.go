package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"net/mail"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/falak/mailrelay/internal/dkim"
)

// smarthost is an in-process SMTP server recording accepted mail
type smarthost struct {
	mu       sync.Mutex
	from     string
	rcpt     []string
	data     []byte
	authUser string
	helo     string
	usedTLS  bool

	username  string
	password  string
	rcptErr   error
	tlsConfig *tls.Config // enables STARTTLS
}

func (h *smarthost) NewSession(c *smtp.Conn) (smtp.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.helo = c.Hostname()
	_, h.usedTLS = c.TLSConnectionState()
	return &smarthostSession{host: h}, nil
}

type smarthostSession struct {
	host *smarthost
}

func (s *smarthostSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smarthostSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.host.username || password != s.host.password {
			return smtp.ErrAuthFailed
		}
		s.host.mu.Lock()
		s.host.authUser = username
		s.host.mu.Unlock()
		return nil
	}), nil
}

func (s *smarthostSession) Mail(from string, opts *smtp.MailOptions) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.host.from = from
	return nil
}

func (s *smarthostSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	if s.host.rcptErr != nil {
		return s.host.rcptErr
	}
	s.host.rcpt = append(s.host.rcpt, to)
	return nil
}

func (s *smarthostSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.host.data = data
	return nil
}

func (s *smarthostSession) Reset() {}

func (s *smarthostSession) Logout() error { return nil }

func startSmarthost(t *testing.T, h *smarthost) string {
	t.Helper()

	srv := smtp.NewServer(h)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	srv.TLSConfig = h.tlsConfig

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

func TestSMTPSend(t *testing.T) {
	host := &smarthost{username: "relay", password: "pw"}
	addr := startSmarthost(t, host)

	p := NewSMTP(SMTPConfig{Addr: addr, Hostname: "relay.falak.me", Username: "relay", Password: "pw"}, testLogger())
	msg := (&Message{To: "user@example.com", Subject: "Hi", Text: "Hello"}).Normalize(Defaults{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if f := p.Send(ctx, msg); f != nil {
		t.Fatalf("Send() = %v, want nil", f)
	}

	host.mu.Lock()
	defer host.mu.Unlock()

	if host.authUser != "relay" {
		t.Errorf("authUser = %q, want relay", host.authUser)
	}
	if host.from != DefaultFrom {
		t.Errorf("MAIL FROM = %q, want %q", host.from, DefaultFrom)
	}
	if len(host.rcpt) != 1 || host.rcpt[0] != "user@example.com" {
		t.Errorf("RCPT TO = %v", host.rcpt)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(host.data))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if parsed.Header.Get("Subject") != "Hi" {
		t.Errorf("Subject = %q", parsed.Header.Get("Subject"))
	}
	if !strings.Contains(parsed.Header.Get("From"), DefaultSenderName) {
		t.Errorf("From = %q", parsed.Header.Get("From"))
	}
}

// selfSignedTLS returns a server config for 127.0.0.1 and a client config trusting it
func selfSignedTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "smarthost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	client = &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"}
	return server, client
}

func TestSMTPHelloName(t *testing.T) {
	host := &smarthost{}
	addr := startSmarthost(t, host)

	p := NewSMTP(SMTPConfig{Addr: addr, Hostname: "relay.falak.me"}, testLogger())
	if f := p.Send(context.Background(), (&Message{To: "user@example.com"}).Normalize(Defaults{})); f != nil {
		t.Fatalf("Send() = %v, want nil", f)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if host.helo != "relay.falak.me" {
		t.Errorf("HELO name = %q, want relay.falak.me", host.helo)
	}
	if host.usedTLS {
		t.Error("session used TLS without STARTTLS enabled")
	}
}

func TestSMTPStartTLS(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLS(t)
	host := &smarthost{username: "relay", password: "pw", tlsConfig: serverTLS}
	addr := startSmarthost(t, host)

	p := NewSMTP(SMTPConfig{
		Addr:      addr,
		Username:  "relay",
		Password:  "pw",
		StartTLS:  true,
		TLSConfig: clientTLS,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if f := p.Send(ctx, (&Message{To: "user@example.com", Subject: "Hi", Text: "Hello"}).Normalize(Defaults{})); f != nil {
		t.Fatalf("Send() = %v, want nil", f)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if !host.usedTLS {
		t.Error("session did not upgrade to TLS")
	}
	if host.authUser != "relay" {
		t.Errorf("authUser = %q, want relay", host.authUser)
	}
	if len(host.rcpt) != 1 || host.rcpt[0] != "user@example.com" {
		t.Errorf("RCPT TO = %v", host.rcpt)
	}
}

func TestSMTPStartTLSUnsupported(t *testing.T) {
	host := &smarthost{}
	addr := startSmarthost(t, host)

	p := NewSMTP(SMTPConfig{Addr: addr, StartTLS: true}, testLogger())
	f := p.Send(context.Background(), (&Message{To: "user@example.com"}).Normalize(Defaults{}))
	if f == nil {
		t.Fatal("Send() = nil, want failure")
	}
	if !strings.HasPrefix(f.Detail, "STARTTLS failed") {
		t.Errorf("Detail = %q, want STARTTLS failure", f.Detail)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if host.from != "" {
		t.Errorf("MAIL FROM = %q, want no mail without TLS", host.from)
	}
}

func TestSMTPSendTimeout(t *testing.T) {
	// Accepts connections but never greets
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	p := NewSMTP(SMTPConfig{Addr: ln.Addr().String()}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	f := p.Send(ctx, (&Message{To: "user@example.com"}).Normalize(Defaults{}))
	if f == nil {
		t.Fatal("Send() = nil, want failure")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Send() took %v, want it bounded by the context", elapsed)
	}
}

func TestSMTPSendSigned(t *testing.T) {
	host := &smarthost{}
	addr := startSmarthost(t, host)

	keyPath := filepath.Join(t.TempDir(), "dkim.key")
	if _, err := dkim.GenerateKey(keyPath); err != nil {
		t.Fatal(err)
	}
	signer, err := dkim.NewSignerFromFile(keyPath, "alerts.falak.me", "relay")
	if err != nil {
		t.Fatal(err)
	}

	p := NewSMTP(SMTPConfig{Addr: addr, Signer: signer}, testLogger())
	msg := (&Message{To: "user@example.com", Subject: "Hi", Text: "Hello"}).Normalize(Defaults{})

	if f := p.Send(context.Background(), msg); f != nil {
		t.Fatalf("Send() = %v, want nil", f)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if !bytes.HasPrefix(host.data, []byte("DKIM-Signature:")) {
		t.Error("message was not DKIM signed")
	}
}

func TestSMTPRejections(t *testing.T) {
	tests := []struct {
		name     string
		rcptErr  error
		wantKind Kind
		wantCode int
	}{
		{
			name:     "rate limited",
			rcptErr:  &smtp.SMTPError{Code: 450, EnhancedCode: smtp.EnhancedCode{4, 7, 1}, Message: "Sending rate exceeded"},
			wantKind: KindRateLimited,
			wantCode: 450,
		},
		{
			name:     "mailbox busy",
			rcptErr:  &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Try again later"},
			wantKind: KindTransient,
			wantCode: 451,
		},
		{
			name:     "rejected",
			rcptErr:  &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"},
			wantKind: KindOther,
			wantCode: 550,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startSmarthost(t, &smarthost{rcptErr: tt.rcptErr})

			p := NewSMTP(SMTPConfig{Addr: addr}, testLogger())
			f := p.Send(context.Background(), (&Message{To: "user@example.com"}).Normalize(Defaults{}))
			if f == nil {
				t.Fatal("Send() = nil, want failure")
			}
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v (detail %q)", f.Kind, tt.wantKind, f.Detail)
			}
			if f.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", f.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestSMTPAuthFailure(t *testing.T) {
	addr := startSmarthost(t, &smarthost{username: "relay", password: "right"})

	p := NewSMTP(SMTPConfig{Addr: addr, Username: "relay", Password: "wrong"}, testLogger())
	f := p.Send(context.Background(), (&Message{To: "user@example.com"}).Normalize(Defaults{}))
	if f == nil {
		t.Fatal("Send() = nil, want failure")
	}
	if f.Kind != KindAuthFailed {
		t.Errorf("Kind = %v, want auth_failed (detail %q)", f.Kind, f.Detail)
	}
}

func TestSMTPNotConfigured(t *testing.T) {
	p := NewSMTP(SMTPConfig{}, testLogger())
	f := p.Send(context.Background(), &Message{To: "user@example.com"})
	if f == nil || f.Detail != "SMTP credentials not configured" {
		t.Fatalf("Send() = %v", f)
	}
}

func TestSMTPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewSMTP(SMTPConfig{Addr: addr}, testLogger())
	f := p.Send(context.Background(), (&Message{To: "user@example.com"}).Normalize(Defaults{}))
	if f == nil || f.Kind != KindTransient {
		t.Fatalf("Send() = %+v, want transient failure", f)
	}
}

func TestSMTPFailureNonProtocol(t *testing.T) {
	f := smtpFailure("send", errors.New("broken pipe"))
	if f.Kind != KindTransient || f.StatusCode != 0 {
		t.Errorf("smtpFailure() = %+v", f)
	}
}
