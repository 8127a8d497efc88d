package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sponsorrun/SponsorRun/internal/pkg/env"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/webhook"
)

var (
	webhookService *webhook.Service
	webhookClient  *strava.Client
)

// InitializeWebhookController wires the webhook handlers with their
// collaborators. Called once during router installation.
func InitializeWebhookController(svc *webhook.Service, client *strava.Client) {
	webhookService = svc
	webhookClient = client
}

// HandleWebhookVerify answers the provider's subscription handshake. The
// challenge is echoed back only for a subscribe request carrying the
// pre-shared verify token.
func HandleWebhookVerify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && webhookClient.VerifyToken != "" && token == webhookClient.VerifyToken {
		log.Info("[Webhook] Subscription handshake validated")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"hub.challenge": challenge})
	}

	log.Warnf("[Webhook] Subscription handshake rejected (mode=%s)", mode)
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
}

// HandleWebhookEvent acknowledges an inbound push event. The only work done
// on the request path is payload validation and one insert; fulfillment runs
// in background so the sender's ~2s delivery deadline always holds.
func HandleWebhookEvent(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if _, err := webhook.ParsePushEvent(rawBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	eventID, err := webhookService.Ingest("webhook", rawBody, map[string]interface{}{
		"remote_ip":  c.IP(),
		"user_agent": string(c.Request().Header.UserAgent()),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_persist_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "event_id": eventID})
}

// HandleCreateWebhookSubscription registers this deployment's callback URL
// with the provider.
func HandleCreateWebhookSubscription(c *fiber.Ctx) error {
	var body struct {
		CallbackURL string `json:"callback_url"`
	}
	_ = c.BodyParser(&body)

	callbackURL := strings.TrimSpace(body.CallbackURL)
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(env.GetEnv("WEBHOOK_CALLBACK_URL", ""))
	}
	if callbackURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "callback_url is required and WEBHOOK_CALLBACK_URL is not set",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	sub, err := webhookClient.CreateSubscription(ctx, callbackURL)
	if err != nil {
		return upstreamError(c, "subscription_create_failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleListWebhookSubscriptions lists the provider-side push subscriptions.
func HandleListWebhookSubscriptions(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	subs, err := webhookClient.ListSubscriptions(ctx)
	if err != nil {
		return upstreamError(c, "subscription_list_failed", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscriptions": subs})
}

// HandleDeleteWebhookSubscription removes a provider-side push subscription.
func HandleDeleteWebhookSubscription(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	if err := webhookClient.DeleteSubscription(ctx, id); err != nil {
		return upstreamError(c, "subscription_delete_failed", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}
