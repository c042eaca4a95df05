package limiter

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the identifier used when a request carries no usable
// client address. Every such request shares one bucket.
const UnknownClient = "unknown"

// IdentifierFunc derives the rate limit identifier for a request.
type IdentifierFunc func(r *http.Request) string

// ClientIdentifier returns an IdentifierFunc keyed on client address: the
// first X-Forwarded-For entry, then (if trustRemoteAddr) the connection's
// remote host, then UnknownClient.
func ClientIdentifier(trustRemoteAddr bool) IdentifierFunc {
	return func(r *http.Request) string {
		if fwd := forwardedFor(r); fwd != "" {
			return fwd
		}
		if trustRemoteAddr {
			if host := remoteHost(r.RemoteAddr); host != "" {
				return host
			}
		}
		return UnknownClient
	}
}

func forwardedFor(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
