package utils

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to lowercase host plus path so that variants of
// the same page compare equal: scheme, "www.", query string, fragment and
// trailing slashes are dropped. Unparseable input is lowercased and trimmed
// the same way on a best-effort basis.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		s := strings.ToLower(raw)
		for _, prefix := range []string{"https://", "http://"} {
			s = strings.TrimPrefix(s, prefix)
		}
		s = strings.TrimPrefix(s, "www.")
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimRight(s, "/")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return strings.TrimRight(host+u.EscapedPath(), "/")
}

// Hostname returns the lowercase host of raw without a "www." prefix, or ""
// when raw does not parse.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
