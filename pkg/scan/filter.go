package scan

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

var ErrInvalidURL = errors.New("invalid url")

var internalSuffixes = []string{".localhost", ".local", ".internal", ".home.arpa"}

// Filter decides which navigations are worth scanning. Browser-internal
// schemes, loopback and private hosts, and trusted first-party domains are
// never sent to providers.
type Filter struct {
	trusted []glob.Glob
}

// NewFilter compiles the trusted domain patterns. Patterns use glob syntax
// with '.' as the separator ("*.example.com", "**.corp.example"); a pattern
// without wildcards also covers its subdomains.
func NewFilter(trusted []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range trusted {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		patterns := []string{p}
		if !strings.ContainsAny(p, "*?[{") {
			patterns = append(patterns, "**."+p)
		}
		for _, pat := range patterns {
			g, err := glob.Compile(pat, '.')
			if err != nil {
				return nil, fmt.Errorf("trusted domain %q: %w", p, err)
			}
			f.trusted = append(f.trusted, g)
		}
	}
	return f, nil
}

// Admit canonicalizes raw and returns the reason it is excluded, or "" when
// it may be scanned. The canonical form is returned in both cases.
func (f *Filter) Admit(raw string) (string, string, error) {
	u, err := Canonicalize(raw)
	if err != nil {
		return "", "", err
	}
	return u.String(), f.exclusion(u), nil
}

func (f *Filter) exclusion(u *url.URL) string {
	if u.Scheme != "http" && u.Scheme != "https" {
		return "scheme"
	}
	host := u.Hostname()
	if host == "" {
		return "host"
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return "internal-ip"
		}
		return ""
	}
	if host == "localhost" {
		return "internal-host"
	}
	for _, s := range internalSuffixes {
		if strings.HasSuffix(host, s) {
			return "internal-host"
		}
	}
	for _, g := range f.trusted {
		if g.Match(host) {
			return "trusted"
		}
	}
	return ""
}

// Canonicalize normalizes a navigation URL into the key used by the cache:
// lowercase scheme and host, default ports and fragments removed, and an
// empty path written as "/".
func Canonicalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Scheme != "http" && u.Scheme != "https" {
		return u, nil
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u, nil
}
