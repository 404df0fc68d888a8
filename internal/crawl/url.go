// Package crawl implements the breadth-limited hierarchical HTTP crawler:
// URL canonicalization, robots gating, paced fetching, and the worker
// pool that grows the canonical tree.
package crawl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrRejectedURL marks hrefs the crawler refuses to follow.
var ErrRejectedURL = errors.New("url rejected")

// ErrInvalidSeed marks seed URLs that fail canonicalization.
var ErrInvalidSeed = errors.New("invalid seed url")

// deniedSuffixes lists path suffixes that are never document pages.
var deniedSuffixes = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".tar", ".gz",
	".mp3", ".mp4", ".avi", ".mov", ".wmv",
	".css", ".js", ".xml", ".rss",
}

// Canonicalize resolves href against base and returns the canonical form:
// absolute, scheme lowercased and restricted to http(s), host lowercased,
// fragment dropped, path and query preserved exactly.
func Canonicalize(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", fmt.Errorf("%w: fragment-only navigation", ErrRejectedURL)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejectedURL, err)
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrRejectedURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: empty host", ErrRejectedURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	path := strings.ToLower(u.Path)
	for _, suffix := range deniedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return "", fmt.Errorf("%w: denied suffix %s", ErrRejectedURL, suffix)
		}
	}
	return u.String(), nil
}

// CanonicalizeSeed canonicalizes an absolute seed URL supplied by the
// operator.
func CanonicalizeSeed(raw string) (string, error) {
	canonical, err := Canonicalize(nil, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeed, raw)
	}
	return canonical, nil
}

// SameHost reports whether two canonical URLs share a host. Hosts are
// compared exactly after lowercasing, with no public-suffix collapsing.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && strings.EqualFold(ua.Host, ub.Host)
}

// Host extracts the lowercased host of a canonical URL, or "" when the
// URL does not parse.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// IsOnionHost reports whether the URL points at a Tor hidden service.
func IsOnionHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".onion")
}
