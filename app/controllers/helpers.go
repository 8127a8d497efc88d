package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
)

// upstreamError maps a provider API failure onto our response. Provider
// status codes pass through as 502 context so callers can distinguish a
// rejection upstream from a fault in this service.
func upstreamError(c *fiber.Ctx, code string, err error) error {
	var apiErr *strava.APIError
	if errors.As(err, &apiErr) {
		log.Warnf("[Strava] Upstream returned %d for %s", apiErr.StatusCode, code)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":           code,
			"upstream_status": apiErr.StatusCode,
		})
	}
	log.Errorf("[Strava] Request failed for %s: %v", code, err)
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": code})
}
