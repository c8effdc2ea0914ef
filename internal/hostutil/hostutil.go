// Package hostutil normalizes API host values given via flags, env, or the
// config file, so "localhost:8080" and "https://api.example.com/" both work.
package hostutil

import (
	"fmt"
	"strings"
)

// Normalize converts a host string to a full base URL.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs pass through with any trailing slash removed
func Normalize(host string) string {
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	if IsLocalhost(host) {
		return "http://" + host
	}
	return "https://" + host
}

// RequireSecureURL rejects plain-http URLs unless they point at a loopback
// host. Tokens ride on every request, so cleartext transport is only
// acceptable against a local development server.
func RequireSecureURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") {
		return nil
	}
	host := strings.TrimPrefix(rawURL, "http://")
	if idx := strings.IndexAny(host, "/?#"); idx != -1 {
		host = host[:idx]
	}
	if IsLocalhost(host) {
		return nil
	}
	return fmt.Errorf("insecure http:// URL %q: use https:// (http is allowed for localhost only)", rawURL)
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Bracketed IPv6 keeps its colons unless a port follows the bracket.
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	if hostWithoutPort == "[::1]" {
		return true
	}
	return false
}
