package util

import (
	"net/url"
	"strings"
)

// NormaliseDomain reduces a URL or hostname to its registrable domain:
// scheme, path, port and common subdomains (www, m) are stripped and the
// last two labels are kept, so "https://www.wired.com/story/x" → "wired.com".
func NormaliseDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Accept plain hostnames as well as full URLs
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	host := raw
	if parsed, err := url.Parse(candidate); err == nil && parsed.Host != "" {
		host = parsed.Host
	}

	host = strings.ToLower(host)

	// Remove port if present
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}

	for _, prefix := range []string{"www.", "m."} {
		host = strings.TrimPrefix(host, prefix)
	}

	host = strings.TrimSuffix(host, "/")

	// Keep only the registrable part when possible (e.g. wired.com)
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		host = strings.Join(parts[len(parts)-2:], ".")
	}

	return host
}

// NormaliseURL ensures a URL carries an https:// scheme and parses cleanly.
// Returns an empty string for unusable input.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	if strings.HasPrefix(rawURL, "http://") {
		rawURL = strings.Replace(rawURL, "http://", "https://", 1)
	}
	if !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	return rawURL
}
