// Package urlarg parses Atlas web URLs into resource IDs, so users can
// paste links from the browser as command arguments.
package urlarg

import (
	"net/url"
	"strings"
)

// Parsed holds the components extracted from an Atlas web URL.
type Parsed struct {
	Kind string // "venues", "submissions", or "donations"
	ID   string
}

var atlasHosts = map[string]bool{
	"atlasdirectory.app":     true,
	"www.atlasdirectory.app": true,
}

// resource path segments the web app uses.
var resourceKinds = map[string]string{
	"venues":      "venues",
	"v":           "venues", // short-link form
	"submissions": "submissions",
	"donations":   "donations",
}

// IsURL reports whether the input looks like an Atlas web URL.
func IsURL(input string) bool {
	return Parse(input) != nil
}

// Parse extracts the resource kind and ID from an Atlas web URL.
// Returns nil if the input is not one.
//
// Supported patterns:
//   - https://atlasdirectory.app/venues/{id}
//   - https://atlasdirectory.app/v/{id}
//   - https://atlasdirectory.app/submissions/{id}
//   - https://atlasdirectory.app/donations/{id}
func Parse(input string) *Parsed {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return nil
	}
	u, err := url.Parse(input)
	if err != nil || !atlasHosts[u.Hostname()] {
		return nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 {
		return nil
	}
	kind, ok := resourceKinds[segments[0]]
	if !ok || segments[1] == "" {
		return nil
	}
	return &Parsed{Kind: kind, ID: segments[1]}
}

// ExtractID returns the resource ID when arg is an Atlas URL, otherwise
// the argument unchanged (assumed to already be an ID).
func ExtractID(arg string) string {
	if parsed := Parse(arg); parsed != nil {
		return parsed.ID
	}
	return arg
}
