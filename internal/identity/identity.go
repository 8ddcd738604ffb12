// Package identity resolves a single caller identity per request. An
// identity is an opaque string key: "user:<id>" for authenticated callers,
// "ip:<address>" otherwise. Resolution never fails; the worst case is
// "ip:unknown".
package identity

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ledgerlens/backend/internal/auth"
)

const (
	userPrefix = "user:"
	ipPrefix   = "ip:"

	// Unknown is the identity of a caller whose address cannot be determined.
	Unknown = ipPrefix + "unknown"

	// maxBodyPeek bounds how much of a request body is inspected for an
	// embedded identity field.
	maxBodyPeek = 1 << 16
)

// ForUser returns the identity key for a user id.
func ForUser(id string) string {
	return userPrefix + id
}

// ForIP returns the identity key for an IP address.
func ForIP(ip string) string {
	if ip == "" {
		return Unknown
	}
	return ipPrefix + ip
}

// IsUser reports whether an identity belongs to an authenticated user.
func IsUser(id string) bool {
	return strings.HasPrefix(id, userPrefix)
}

// UserID returns the user id portion of a user identity, or "".
func UserID(id string) string {
	if !IsUser(id) {
		return ""
	}
	return strings.TrimPrefix(id, userPrefix)
}

// Resolve extracts the caller identity from a request. Precedence:
// authenticated user injected by the auth middleware, then an identity
// carried in a JSON body, then a query parameter, then the client IP.
// Body parse failures are ignored; the body is restored for downstream
// handlers.
func Resolve(r *http.Request) string {
	if user := auth.GetUser(r.Context()); user != nil && user.ID != "" {
		return ForUser(user.ID)
	}

	if id := bodyIdentity(r); id != "" {
		return ForUser(id)
	}

	if id := r.URL.Query().Get("user_id"); id != "" {
		return ForUser(id)
	}

	return ForIP(ClientIP(r))
}

// bodyIdentity peeks at a JSON request body for a user_id/identity field.
// Best effort: anything that is not a small JSON object yields "".
func bodyIdentity(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var payload struct {
		UserID   string `json:"user_id"`
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.UserID != "" {
		return payload.UserID
	}
	return payload.Identity
}

// ClientIP extracts the client IP address from the request. It prefers the
// first hop of an X-Forwarded-For chain, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// Take the first IP in the chain
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// RemoteAddr is in the form "IP:port"; strip the port, minding IPv6.
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
		if ip[i] == ']' {
			break
		}
	}
	return ip
}
