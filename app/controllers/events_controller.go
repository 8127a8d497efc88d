package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/sponsorrun/SponsorRun/internal/pkg/webhook"
)

var eventRepository webhook.Repository

func InitializeEventsController(repo webhook.Repository) {
	eventRepository = repo
}

// HandleListWebhookEvents returns the most recent processing records plus
// aggregate counts per type and outcome. Filters are all optional.
func HandleListWebhookEvents(c *fiber.Ctx) error {
	filter := webhook.EventFilter{
		Type:   c.Query("type"),
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit", 0),
	}
	if raw := c.Query("athlete_id"); raw != "" {
		athleteID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid athlete_id"})
		}
		filter.AthleteID = athleteID
	}
	if raw := c.Query("since_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid since_hours"})
		}
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	events, err := eventRepository.ListEvents(filter)
	if err != nil {
		log.Errorf("[Events] List failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_list_failed"})
	}

	stats, err := eventRepository.EventStats()
	if err != nil {
		log.Errorf("[Events] Stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_stats_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"events": events,
		"count":  len(events),
		"stats":  stats,
	})
}

// HandleGetWebhookEvent returns a single processing record by id.
func HandleGetWebhookEvent(c *fiber.Ctx) error {
	event, err := eventRepository.GetEvent(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(event)
}

// HandleClearWebhookEvents runs the retention sweep on demand. Records older
// than days_to_keep are removed; recent records stay untouched.
func HandleClearWebhookEvents(c *fiber.Ctx) error {
	daysToKeep := c.QueryInt("days_to_keep", 30)
	if daysToKeep < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid days_to_keep"})
	}

	cleared, err := eventRepository.DeleteEventsOlderThan(daysToKeep)
	if err != nil {
		log.Errorf("[Events] Retention sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_sweep_failed"})
	}

	log.Infof("[Events] Retention sweep cleared %d records older than %d days", cleared, daysToKeep)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"cleared_count": cleared,
		"days_to_keep":  daysToKeep,
	})
}
