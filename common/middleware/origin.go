package middleware

import (
	"net/http"
	"strings"
)

// OriginChecker matches the Origin header of an upgrade request against an
// allow list. Entries may be exact origins, "*" or wildcards such as
// "*.example.com".
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker returns a checker for the given origins. An empty list
// accepts every origin.
func NewOriginChecker(origins []string) *OriginChecker {
	cleaned := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cleaned = append(cleaned, o)
		}
	}
	return &OriginChecker{allowed: cleaned}
}

// Allowed reports whether origin is accepted.
func (c *OriginChecker) Allowed(origin string) bool {
	if len(c.allowed) == 0 || origin == "" {
		return true
	}
	for _, allowed := range c.allowed {
		if allowed == "*" || allowed == origin {
			return true
		}
		// "*.example.com" matches "https://app.example.com"
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, strings.TrimPrefix(allowed, "*")) {
			return true
		}
	}
	return false
}

// Check has the signature expected by websocket.Upgrader.CheckOrigin.
func (c *OriginChecker) Check(r *http.Request) bool {
	return c.Allowed(r.Header.Get("Origin"))
}
