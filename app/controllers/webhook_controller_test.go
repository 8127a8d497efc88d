package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sponsorrun/SponsorRun/app/models"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/webhook"
)

func newControllerTestApp(t *testing.T) (*fiber.App, webhook.Repository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Athlete{}, &models.Activity{}, &models.WebhookEvent{}))

	repo := webhook.NewRepository(db)
	client := &strava.Client{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		VerifyToken:  "verify-me",
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	}
	service := webhook.NewService(repo, nil, nil, func(eventID string) {})

	InitializeWebhookController(service, client)
	InitializeEventsController(repo)

	app := fiber.New()
	app.Get("/api/v1/strava/webhook", HandleWebhookVerify)
	app.Post("/api/v1/strava/webhook", HandleWebhookEvent)
	app.Get("/api/v1/webhook-events", HandleListWebhookEvents)
	app.Get("/api/v1/webhook-events/:id", HandleGetWebhookEvent)
	app.Delete("/api/v1/webhook-events", HandleClearWebhookEvents)
	return app, repo
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestHandleWebhookVerify_EchoesChallenge(t *testing.T) {
	app, _ := newControllerTestApp(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/strava/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "abc123", body["hub.challenge"])
}

func TestHandleWebhookVerify_RejectsWrongToken(t *testing.T) {
	app, _ := newControllerTestApp(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/strava/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleWebhookVerify_RejectsMissingMode(t *testing.T) {
	app, _ := newControllerTestApp(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/strava/webhook?hub.verify_token=verify-me&hub.challenge=abc123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleWebhookEvent_AcknowledgesAndPersists(t *testing.T) {
	app, repo := newControllerTestApp(t)

	payload := `{"object_type":"activity","object_id":1234567890,"aspect_type":"create","owner_id":42,"event_time":1700000000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/strava/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	eventID, ok := body["event_id"].(string)
	require.True(t, ok)

	event, err := repo.GetEvent(eventID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookEventStatusProcessing, event.Status)
	assert.Equal(t, int64(42), event.AthleteID)
}

func TestHandleWebhookEvent_RejectsMalformedPayload(t *testing.T) {
	app, _ := newControllerTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/strava/webhook", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_payload", body["error"])
}

func TestHandleListWebhookEvents(t *testing.T) {
	app, repo := newControllerTestApp(t)

	require.NoError(t, repo.CreateEvent(&models.WebhookEvent{
		ID: "evt-1", Type: "webhook", AthleteID: 42,
		Payload: "{}", Status: models.WebhookEventStatusSuccess, StartedAt: time.Now(),
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/webhook-events", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
	require.NotNil(t, body["stats"])
}

func TestHandleGetWebhookEvent_NotFound(t *testing.T) {
	app, _ := newControllerTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/webhook-events/no-such-id", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleClearWebhookEvents(t *testing.T) {
	app, repo := newControllerTestApp(t)

	require.NoError(t, repo.CreateEvent(&models.WebhookEvent{
		ID: "evt-recent", Type: "webhook",
		Payload: "{}", Status: models.WebhookEventStatusSuccess, StartedAt: time.Now(),
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/webhook-events?days_to_keep=30", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(0), body["cleared_count"])
	assert.Equal(t, float64(30), body["days_to_keep"])
}
