package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP determines the client address behind Cloudflare or a reverse proxy.
// The first X-Forwarded-For entry is the original client.
func ClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	// For ::ffff: IPv4-mapped-IPv6 addresses
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
