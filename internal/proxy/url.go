package proxy

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/boltproxy/boltproxy/internal/httpparse"
)

// ReconstructedURL is the absolute http://host[:port]/path[?query] form
// used as the cache key and the log's URL field, decomposed enough to
// drive the denylist check and the upstream dial.
type ReconstructedURL struct {
	Raw  string // exactly as used for cache key / log
	Host string // decomposed hostname, NOT lowercased (display form)
	Port int    // 0 means "use the caller's default"
	Path string // path + "?" + query, as sent upstream
}

// Reconstruct turns a request-target into an absolute URL: if the
// request-target already begins with "http://" it is used verbatim,
// otherwise the handler composes "http://<Host header><target>".
func Reconstruct(req httpparse.Request) ReconstructedURL {
	var raw string
	if strings.HasPrefix(req.Target, "http://") {
		raw = req.Target
	} else {
		raw = "http://" + req.Headers.Get("host") + req.Target
	}

	u, err := url.Parse(raw)
	if err != nil {
		// Parsing cannot fail on the inputs this handler can produce
		// (it only ever wraps a scheme onto something-or-empty), but
		// degrade to an empty host rather than panicking if it ever
		// does: the dial will fail and the forwarder emits 502, the
		// same outcome as a request with a missing Host header.
		return ReconstructedURL{Raw: raw}
	}

	result := ReconstructedURL{Raw: raw, Host: u.Hostname(), Path: u.Path}
	if u.RawQuery != "" {
		result.Path += "?" + u.RawQuery
	}
	if result.Path == "" {
		result.Path = "/"
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			result.Port = n
		}
	}
	return result
}

// LowercaseHost is the hostname used for denylist membership: the
// decomposed hostname, lowercased.
func (r ReconstructedURL) LowercaseHost() string {
	return strings.ToLower(r.Host)
}

// DialPort returns the port to dial, defaulting to 80 when the
// reconstructed URL carried none.
func (r ReconstructedURL) DialPort() int {
	if r.Port != 0 {
		return r.Port
	}
	return 80
}
