package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate and key for testing
func generateTestCertificate(notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	// Generate RSA key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "relay.falak.me",
		},
		Issuer:                pkix.Name{CommonName: "relay.falak.me"},
		NotBefore:             notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"relay.falak.me"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM, nil
}

func TestLoadCertificate(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")

	certPEM, keyPEM, err := generateTestCertificate(time.Now().Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}

	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("valid certificate", func(t *testing.T) {
		cert, err := LoadCertificate(certFile, keyFile)
		if err != nil {
			t.Errorf("unexpected error loading valid certificate: %v", err)
		}
		if cert == nil {
			t.Error("expected certificate, got nil")
		}
	})

	t.Run("non-existent cert file", func(t *testing.T) {
		_, err := LoadCertificate("/nonexistent/cert.pem", "/nonexistent/key.pem")
		if err == nil {
			t.Error("expected error for non-existent files")
		}
	})

	t.Run("invalid cert", func(t *testing.T) {
		invalidCert := filepath.Join(tmpDir, "invalid.pem")
		if err := os.WriteFile(invalidCert, []byte("invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadCertificate(invalidCert, keyFile)
		if err == nil {
			t.Error("expected error for invalid certificate")
		}
	})
}

func TestReadCertificateInfo(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	certPEM, _, err := generateTestCertificate(now.Add(30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}

	certFile := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}

	info, err := ReadCertificateInfo(certFile, now)
	if err != nil {
		t.Fatalf("ReadCertificateInfo() error = %v", err)
	}
	if info.Domain != "relay.falak.me" || info.DaysLeft != 30 {
		t.Errorf("info = %+v", info)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "relay.falak.me" {
		t.Errorf("DNSNames = %v", info.DNSNames)
	}
	if info.ExpiresSoon(14) {
		t.Error("ExpiresSoon(14) = true with 30 days left")
	}
	if !info.ExpiresSoon(31) {
		t.Error("ExpiresSoon(31) = false with 30 days left")
	}

	if _, err := ReadCertificateInfo(filepath.Join(t.TempDir(), "missing.pem"), now); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	os.WriteFile(garbage, []byte("not pem"), 0644)
	if _, err := ReadCertificateInfo(garbage, now); err == nil {
		t.Error("expected error for non-PEM file")
	}
}
