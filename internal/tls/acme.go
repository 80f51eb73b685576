package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEManager obtains and renews API certificates from Let's Encrypt
type ACMEManager struct {
	manager *autocert.Manager
	cache   autocert.DirCache
	domains []string
}

// NewACMEManager creates a new ACME manager
func NewACMEManager(email string, domains []string, cacheDir string) *ACMEManager {
	cache := autocert.DirCache(cacheDir)
	return &ACMEManager{
		manager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      email,
			HostPolicy: autocert.HostWhitelist(domains...),
			Cache:      cache,
		},
		cache:   cache,
		domains: domains,
	}
}

// Domains returns the list of configured domains
func (a *ACMEManager) Domains() []string {
	return a.domains
}

// TLSConfig returns TLS configuration for use with servers
func (a *ACMEManager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: a.manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// HTTPHandler answers HTTP-01 challenges and passes other requests to fallback
func (a *ACMEManager) HTTPHandler(fallback http.Handler) http.Handler {
	return a.manager.HTTPHandler(fallback)
}

// CachedCertificates reads certificates from the cache without contacting Let's Encrypt.
// Domains without a usable cached certificate are skipped.
func (a *ACMEManager) CachedCertificates(ctx context.Context, now time.Time) []*CertificateInfo {
	var results []*CertificateInfo

	for _, domain := range a.domains {
		data, err := a.cache.Get(ctx, domain)
		if err != nil {
			continue
		}

		// Cache entries hold the key and the chain in one PEM file
		cert, err := tls.X509KeyPair(data, data)
		if err != nil || len(cert.Certificate) == 0 {
			continue
		}

		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			continue
		}

		results = append(results, newInfo(domain, leaf, now))
	}

	return results
}

// RedirectHandler redirects plain HTTP requests to HTTPS
func RedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + r.Host + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}
