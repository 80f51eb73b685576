// Package ipfilter restricts HTTP endpoints to allow-listed networks.
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ParseNetwork parses an IP address or CIDR. A bare address becomes a /32 or /128.
func ParseNetwork(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)

	if strings.Contains(entry, "/") {
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		return ipNet, nil
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", entry)
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// Validate checks that every entry parses
func Validate(entries []string) error {
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if _, err := ParseNetwork(entry); err != nil {
			return err
		}
	}
	return nil
}

// Filter checks client addresses against allowed networks
type Filter struct {
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a filter from IPs and CIDRs. Invalid entries are logged and skipped.
// An empty list allows everyone.
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, entry := range allowed {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		ipNet, err := ParseNetwork(entry)
		if err != nil {
			logger.Warn("skipping allow-list entry", "entry", entry, "error", err)
			continue
		}
		f.allowedNets = append(f.allowedNets, ipNet)
	}

	return f
}

// Enabled returns true if filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowedNets) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowedNets)
}

// IsAllowed reports whether ip may pass
func (f *Filter) IsAllowed(ip net.IP) bool {
	if !f.Enabled() {
		return true
	}
	for _, ipNet := range f.allowedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsAllowedAddr checks a host:port or bare host address
func (f *Filter) IsAllowedAddr(addr string) bool {
	ip := parseAddr(addr)
	if ip == nil {
		return false
	}
	return f.IsAllowed(ip)
}

// ClientIP returns the peer address of r. Proxy headers are not consulted here;
// chi's RealIP middleware rewrites RemoteAddr where a trusted proxy sits in front.
func ClientIP(r *http.Request) net.IP {
	return parseAddr(r.RemoteAddr)
}

func parseAddr(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

// Middleware rejects requests from addresses outside the allow-list with 403
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		if ip == nil || !f.IsAllowed(ip) {
			f.logger.Warn("access denied by IP filter",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"message":"Forbidden"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
