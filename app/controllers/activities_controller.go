package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/tokens"
	"github.com/sponsorrun/SponsorRun/internal/pkg/webhook"
)

var (
	activityRepository webhook.Repository
	activityTokens     *tokens.Manager
	activityClient     *strava.Client
)

func InitializeActivitiesController(repo webhook.Repository, tm *tokens.Manager, client *strava.Client) {
	activityRepository = repo
	activityTokens = tm
	activityClient = client
}

// HandleListActivities returns the locally mirrored activities for an
// athlete. Soft-deleted rows are excluded.
func HandleListActivities(c *fiber.Ctx) error {
	athleteID, err := strconv.ParseInt(c.Query("athlete_id"), 10, 64)
	if err != nil || athleteID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "athlete_id is required"})
	}

	activities, err := activityRepository.ListActivities(athleteID, c.QueryInt("limit", 0))
	if err != nil {
		log.Errorf("[Activities] List failed for athlete %d: %v", athleteID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activity_list_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"activities": activities,
		"count":      len(activities),
	})
}

// HandleListUpstreamActivities proxies a live activity listing from the
// provider using a freshly validated access token.
func HandleListUpstreamActivities(c *fiber.Ctx) error {
	athleteID, err := strconv.ParseInt(c.Query("athlete_id"), 10, 64)
	if err != nil || athleteID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "athlete_id is required"})
	}
	page := c.QueryInt("page", 1)
	perPage := c.QueryInt("per_page", 30)

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	accessToken, err := activityTokens.EnsureValid(ctx, athleteID)
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrNoCredential):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "athlete is not connected"})
		case errors.Is(err, tokens.ErrAuthRevoked):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "athlete authorization revoked"})
		default:
			log.Errorf("[Activities] Token refresh failed for athlete %d: %v", athleteID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "token_refresh_failed"})
		}
	}

	activities, err := activityClient.ListAthleteActivities(ctx, accessToken, page, perPage)
	if err != nil {
		return upstreamError(c, "upstream_activity_list_failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"activities": activities,
		"count":      len(activities),
		"page":       page,
	})
}
