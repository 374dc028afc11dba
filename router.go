package offlinecache

import (
	"net/http"
	"strings"
)

// RequestClass is the classification assigned to an intercepted request.
// It is decided once per request and never changes mid-flight.
type RequestClass string

const (
	// ClassBypass requests go straight to the network, no cache involvement.
	ClassBypass RequestClass = "bypass"
	// ClassAPI requests are network-first with an offline fallback.
	ClassAPI RequestClass = "api"
	// ClassNavigation requests are top-level document loads, network-first.
	ClassNavigation RequestClass = "navigation"
	// ClassStatic requests are served stale-while-revalidate.
	ClassStatic RequestClass = "static"
	// ClassDefault covers everything else: cache if present, else network.
	ClassDefault RequestClass = "default"
)

// Routes holds the path prefixes the router matches against.
// These are configuration, not protocol, and must stay stable for
// classification to be deterministic.
type Routes struct {
	API    string `yaml:"api"`
	Admin  string `yaml:"admin"`
	Static string `yaml:"static"`
}

// DefaultRoutes are the prefixes used by the poker-night deployment.
var DefaultRoutes = Routes{
	API:    "/api/",
	Admin:  "/admin/",
	Static: "/static/",
}

// Classify assigns exactly one class to the request. First match wins and
// there is no "no match" case: anything unclassified falls through to
// ClassDefault.
func (rt Routes) Classify(r *http.Request) RequestClass {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, rt.Admin):
		return ClassBypass
	case strings.HasPrefix(path, rt.API):
		return ClassAPI
	case isNavigation(r):
		return ClassNavigation
	case strings.HasPrefix(path, rt.Static):
		return ClassStatic
	default:
		return ClassDefault
	}
}

// isNavigation reports whether the request is a top-level document load.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
