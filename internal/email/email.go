// Package email provides common email utility functions.
package email

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}

// Envelope holds the parts of a single-recipient message
type Envelope struct {
	From       string
	SenderName string
	To         string
	ReplyTo    string
	Subject    string
	Text       string
	HTML       string
	Date       time.Time
}

// Compose builds RFC 5322 message data with a text and an HTML part
func Compose(env *Envelope) []byte {
	var buf bytes.Buffer

	date := env.Date
	if date.IsZero() {
		date = time.Now()
	}

	from := (&mail.Address{Name: env.SenderName, Address: env.From}).String()

	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", (&mail.Address{Address: env.To}).String())
	if env.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", (&mail.Address{Address: env.ReplyTo}).String())
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), ExtractDomainOrDefault(env.From, "localhost")))
	writeHeader(&buf, "MIME-Version", "1.0")

	if env.HTML == "" {
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQP(&buf, env.Text)
		return buf.Bytes()
	}

	boundary := uuid.New().String()
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	buf.WriteString("\r\n")

	if env.Text != "" {
		writePart(&buf, boundary, "text/plain; charset=utf-8", env.Text)
	}
	writePart(&buf, boundary, "text/html; charset=utf-8", env.HTML)

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	// Header values never carry line breaks
	value = strings.NewReplacer("\r", "", "\n", "").Replace(value)
	fmt.Fprintf(buf, "%s: %s\r\n", name, value)
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	writeHeader(buf, "Content-Type", contentType)
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")
	writeQP(buf, body)
	buf.WriteString("\r\n")
}

func writeQP(buf *bytes.Buffer, body string) {
	w := quotedprintable.NewWriter(buf)
	w.Write([]byte(body))
	w.Close()
}
