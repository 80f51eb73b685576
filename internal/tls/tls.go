// Package tls builds TLS configurations for the API listener from certificate
// files or ACME.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// CertificateInfo describes a serving certificate
type CertificateInfo struct {
	Domain    string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// ExpiresSoon reports whether fewer than days remain
func (c *CertificateInfo) ExpiresSoon(days int) bool {
	return c.DaysLeft < days
}

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ReadCertificateInfo reads the first certificate of a PEM file
func ReadCertificateInfo(certFile string, now time.Time) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return newInfo(cert.Subject.CommonName, cert, now), nil
}

func newInfo(domain string, cert *x509.Certificate, now time.Time) *CertificateInfo {
	return &CertificateInfo{
		Domain:    domain,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(cert.NotAfter.Sub(now).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}
}
