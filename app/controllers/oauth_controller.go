package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sponsorrun/SponsorRun/app/models"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
)

var (
	oauthClient *strava.Client
	oauthDB     *gorm.DB
)

func InitializeOAuthController(client *strava.Client, db *gorm.DB) {
	oauthClient = client
	oauthDB = db
}

// HandleStravaTokenExchange swaps an authorization code for a token pair and
// persists the athlete alongside its credentials. Tokens never appear in the
// response body or in logs.
func HandleStravaTokenExchange(c *fiber.Ctx) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&body); err != nil || body.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	tok, err := oauthClient.ExchangeCode(ctx, body.Code)
	if err != nil {
		return upstreamError(c, "token_exchange_failed", err)
	}
	if tok.Athlete == nil || tok.Athlete.ID == 0 {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "token response missing athlete"})
	}

	expiresAt := time.Unix(tok.ExpiresAt, 0)
	athlete := models.Athlete{
		ID:             tok.Athlete.ID,
		Username:       tok.Athlete.Username,
		FirstName:      tok.Athlete.FirstName,
		LastName:       tok.Athlete.LastName,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: &expiresAt,
	}
	err = oauthDB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "first_name", "last_name",
			"access_token", "refresh_token", "token_expires_at",
		}),
	}).Create(&athlete).Error
	if err != nil {
		log.Errorf("[OAuth] Failed to persist athlete %d: %v", athlete.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "athlete_persist_failed"})
	}

	log.Infof("[OAuth] Connected athlete %d", athlete.ID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"athlete": athlete,
	})
}
