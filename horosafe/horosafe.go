// Package horosafe holds the URL safety checks used by adwatch: the
// allow-list of forum index pages a search may watch, SSRF prevention on
// every outbound fetch, and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (10 MiB).
const MaxResponseBody int64 = 10 << 20

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrNotAllowed is returned when a URL is not in the allow-list.
var ErrNotAllowed = errors.New("horosafe: URL is not in the allow-list")

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail at connect time anyway.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// AllowList is the set of forum index URLs searches may be registered on.
// Entries are compared in canonical form (see Canonical).
type AllowList struct {
	urls map[string]struct{}
}

// NewAllowList builds an AllowList. Entries that do not parse as http(s)
// URLs are returned as an error.
func NewAllowList(raw []string) (*AllowList, error) {
	al := &AllowList{urls: make(map[string]struct{}, len(raw))}
	for _, r := range raw {
		c, err := canonical(r)
		if err != nil {
			return nil, fmt.Errorf("horosafe: allow-list entry %q: %w", r, err)
		}
		al.urls[c] = struct{}{}
	}
	return al, nil
}

// Canonical returns the allow-listed form of rawURL, or ErrNotAllowed.
func (al *AllowList) Canonical(rawURL string) (string, error) {
	c, err := canonical(rawURL)
	if err != nil {
		return "", err
	}
	if al == nil {
		return "", ErrNotAllowed
	}
	if _, ok := al.urls[c]; !ok {
		return "", ErrNotAllowed
	}
	return c, nil
}

// Contains reports whether rawURL is allow-listed.
func (al *AllowList) Contains(rawURL string) bool {
	_, err := al.Canonical(rawURL)
	return err == nil
}

// URLs returns the allow-listed URLs, sorted.
func (al *AllowList) URLs() []string {
	if al == nil {
		return nil
	}
	out := make([]string, 0, len(al.urls))
	for u := range al.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of allow-listed URLs.
func (al *AllowList) Len() int {
	if al == nil {
		return 0
	}
	return len(al.urls)
}

// canonical lowercases scheme and host, drops query and fragment, and
// forces a trailing slash on the path.
func canonical(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsafeScheme
	}
	if u.Host == "" {
		return "", fmt.Errorf("horosafe: URL has no host")
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	return u.String(), nil
}

// LimitedReadAll reads at most maxBytes from r and fails if r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

var privateRanges = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
	"169.254.0.0/16",
	"100.64.0.0/10",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
