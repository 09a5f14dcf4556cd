package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	identityKey = "identity"

	// HeaderAutoErrorResolved marks a client-driven error resolution retry.
	HeaderAutoErrorResolved = "X-Auto-Error-Resolved"
)

// Fingerprint identifies the caller for quota purposes: the first
// X-Forwarded-For hop, else the socket address.
func Fingerprint(c *fiber.Ctx) string {
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}

// Identity stores the caller fingerprint in the request locals.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(identityKey, Fingerprint(c))
		return c.Next()
	}
}

// GetIdentity returns the fingerprint set by Identity, computing it when the
// middleware did not run.
func GetIdentity(c *fiber.Ctx) string {
	if id, ok := c.Locals(identityKey).(string); ok && id != "" {
		return id
	}
	return Fingerprint(c)
}

// AutoErrorResolved reports whether the request carries the retry marker.
func AutoErrorResolved(c *fiber.Ctx) bool {
	return strings.EqualFold(strings.TrimSpace(c.Get(HeaderAutoErrorResolved)), "true")
}
