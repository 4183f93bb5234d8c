package registry

import (
	"net"
	"net/url"
	"strings"
)

// Wormholescan indexes token bridge transfers and their redemption status.
const WormholescanBaseURL = "https://api.wormholescan.io/api/v1"

// IsAllowedStatusURL accepts the canonical Wormholescan host over https, or
// any loopback endpoint for tests and local guardians.
func IsAllowedStatusURL(endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowed, err := url.Parse(WormholescanBaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), allowed.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
