// Package domain implements the domain() function of spec §4.3: a
// stable, filesystem-safe string derived from a URL, used as the last
// path component of the partition key. Grounded on
// original_source/src/domain.rs's eTLD+1 approach, but using the Go
// ecosystem's public-suffix table (golang.org/x/net/publicsuffix)
// instead of a vendored extractor, and — where spec.md explicitly
// diverges from the original — falling back to the literal host for
// IP-literal and opaque hosts instead of erroring.
package domain

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Extract computes domain(u) per spec §4.3.
func Extract(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Opaque or non-HTTP URL with no host component: fall back to
		// the full opaque string.
		return sanitize(strings.ToLower(u.Opaque)), nil
	}

	host = strings.TrimPrefix(host, "www.")

	if net.ParseIP(host) != nil {
		// IP-literal host: use the literal, per spec.md (the original
		// Rust extractor instead rejects IP-literal hosts as an error;
		// spec.md is not silent here, so its fallback wins).
		return sanitize(host), nil
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// No recognized public suffix (single-label host, unlisted TLD,
		// etc.): fall back to the full host.
		return sanitize(host), nil
	}
	return sanitize(registrable), nil
}

// sanitize makes s filesystem-safe: no '/', no leading '.', unsafe code
// points replaced with '-'.
func sanitize(s string) string {
	s = strings.TrimLeft(s, ".")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isUnsafe(r) {
			b.WriteRune('-')
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

func isUnsafe(r rune) bool {
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\x00':
		return true
	}
	return r < 0x20
}
