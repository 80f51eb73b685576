// Package dkim signs outgoing smarthost mail.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the header fields covered by the signature
var signedHeaders = []string{"From", "To", "Reply-To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"}

// Signer signs email messages with DKIM
type Signer struct {
	privateKey *rsa.PrivateKey
	domain     string
	selector   string
}

// NewSigner creates a new DKIM signer
func NewSigner(privateKey *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		privateKey: privateKey,
		domain:     domain,
		selector:   selector,
	}
}

// NewSignerFromFile creates a new DKIM signer from a PEM key file
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	privateKey, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}

	return NewSigner(privateKey, domain, selector), nil
}

// Sign returns the message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.privateKey,
		Hash:                   crypto.SHA256,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	return signed.Bytes(), nil
}

// Domain returns the DKIM domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}

// DNSName returns the DNS record name for the public key
func (s *Signer) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", s.selector, s.domain)
}

// DNSRecord returns the TXT record content publishing the public key
func (s *Signer) DNSRecord() (string, error) {
	pub, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub), nil
}

// GenerateKey creates a 2048-bit RSA key and writes it to path as PKCS#1 PEM
func GenerateKey(path string) (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	return privateKey, nil
}

// LoadPrivateKey loads an RSA private key from a PKCS#1 or PKCS#8 PEM file
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}
