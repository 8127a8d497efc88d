package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sponsorrun/SponsorRun/app/models"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/tokens"
)

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) EnsureValid(ctx context.Context, athleteID int64) (string, error) {
	return f.token, f.err
}

type fakeFetcher struct {
	activity *strava.Activity
	raw      []byte
	err      error
	calls    int
}

func (f *fakeFetcher) GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, []byte, error) {
	f.calls++
	return f.activity, f.raw, f.err
}

type testHarness struct {
	db         *gorm.DB
	repo       Repository
	tokens     *fakeTokens
	fetcher    *fakeFetcher
	service    *Service
	dispatched []string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		db:     newTestDB(t),
		tokens: &fakeTokens{token: "valid-token"},
		fetcher: &fakeFetcher{
			activity: &strava.Activity{ID: 1234567890, Name: "Morning Run", SportType: "Run", Distance: 5000, MovingTime: 1500},
			raw:      []byte(`{"id":1234567890,"name":"Morning Run"}`),
		},
	}
	h.repo = NewRepository(h.db)
	h.service = NewService(h.repo, h.tokens, h.fetcher, func(eventID string) {
		h.dispatched = append(h.dispatched, eventID)
	})
	return h
}

func (h *testHarness) ingestAndProcess(t *testing.T, payload string) *models.WebhookEvent {
	t.Helper()
	eventID, err := h.service.Ingest("webhook", []byte(payload), map[string]interface{}{"remote_ip": "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, h.service.Process(context.Background(), eventID))

	event, err := h.repo.GetEvent(eventID)
	require.NoError(t, err)
	return event
}

func (h *testHarness) metadata(t *testing.T, event *models.WebhookEvent) map[string]interface{} {
	t.Helper()
	var metadata map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(event.Metadata), &metadata))
	return metadata
}

const createPayload = `{"object_type":"activity","object_id":1234567890,"aspect_type":"create","owner_id":42,"event_time":1700000000}`

func TestIngest_PersistsBeforeDispatch(t *testing.T) {
	h := newHarness(t)

	eventID, err := h.service.Ingest("webhook", []byte(createPayload), nil)
	require.NoError(t, err)
	require.Len(t, h.dispatched, 1)
	assert.Equal(t, eventID, h.dispatched[0])

	event, err := h.repo.GetEvent(eventID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookEventStatusProcessing, event.Status)
	assert.Equal(t, int64(42), event.AthleteID)
	assert.Equal(t, createPayload, event.Payload)
}

func TestProcess_ActivityCreate(t *testing.T) {
	h := newHarness(t)

	event := h.ingestAndProcess(t, createPayload)
	assert.Equal(t, models.WebhookEventStatusSuccess, event.Status)

	metadata := h.metadata(t, event)
	assert.Equal(t, "activity_create", metadata["classification"])
	activityMeta := metadata["activity"].(map[string]interface{})
	assert.Equal(t, "Morning Run", activityMeta["name"])

	stored, err := h.repo.ListActivities(42, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1234567890), stored[0].ID)
	assert.Equal(t, "Run", stored[0].SportType)
	assert.Equal(t, float64(5000), stored[0].Distance)
}

func TestProcess_RedeliveryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)

	h.ingestAndProcess(t, createPayload)
	h.ingestAndProcess(t, createPayload)

	stored, err := h.repo.ListActivities(42, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestProcess_TerminalEventIsNotReprocessed(t *testing.T) {
	h := newHarness(t)

	event := h.ingestAndProcess(t, createPayload)
	require.Equal(t, 1, h.fetcher.calls)

	// Simulates a duplicate job delivery for an already-finished event.
	require.NoError(t, h.service.Process(context.Background(), event.ID))
	assert.Equal(t, 1, h.fetcher.calls)
}

func TestProcess_AuthRevokedRunsDeauthorization(t *testing.T) {
	h := newHarness(t)
	h.tokens.err = tokens.ErrAuthRevoked

	expires := time.Now().Add(time.Hour)
	require.NoError(t, h.db.Create(&models.Athlete{
		ID: 42, Username: "runner42",
		AccessToken: "access", RefreshToken: "refresh", TokenExpiresAt: &expires,
	}).Error)
	require.NoError(t, h.repo.UpsertActivity(&models.Activity{ID: 7, AthleteID: 42, Name: "Old Ride"}))

	event := h.ingestAndProcess(t, createPayload)
	assert.Equal(t, models.WebhookEventStatusFailed, event.Status)
	assert.Equal(t, "athlete authorization revoked", event.Error)

	stored, err := h.repo.ListActivities(42, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)

	var athlete models.Athlete
	require.NoError(t, h.db.First(&athlete, "id = ?", 42).Error)
	assert.False(t, athlete.HasCredential())
	assert.Equal(t, "runner42", athlete.Username)
}

func TestProcess_UpstreamRejectionFailsEvent(t *testing.T) {
	h := newHarness(t)
	h.fetcher.activity = nil
	h.fetcher.err = &strava.APIError{StatusCode: 500, Body: "internal error"}

	event := h.ingestAndProcess(t, createPayload)
	assert.Equal(t, models.WebhookEventStatusFailed, event.Status)
	assert.Contains(t, event.Error, "status=500")

	metadata := h.metadata(t, event)
	assert.Equal(t, float64(500), metadata["upstream_status"])
}

func TestProcess_ActivityDelete(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repo.UpsertActivity(&models.Activity{ID: 1234567890, AthleteID: 42, Name: "Morning Run"}))

	event := h.ingestAndProcess(t, `{"object_type":"activity","object_id":1234567890,"aspect_type":"delete","owner_id":42}`)
	assert.Equal(t, models.WebhookEventStatusSuccess, event.Status)

	stored, err := h.repo.ListActivities(42, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestProcess_ActivityDeleteForUnknownActivityIsNoop(t *testing.T) {
	h := newHarness(t)

	event := h.ingestAndProcess(t, `{"object_type":"activity","object_id":999,"aspect_type":"delete","owner_id":42}`)
	assert.Equal(t, models.WebhookEventStatusSuccess, event.Status)

	metadata := h.metadata(t, event)
	assert.Equal(t, true, metadata["delete_noop"])
}

func TestProcess_Deauthorization(t *testing.T) {
	h := newHarness(t)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, h.db.Create(&models.Athlete{
		ID: 42, Username: "runner42",
		AccessToken: "access", RefreshToken: "refresh", TokenExpiresAt: &expires,
	}).Error)
	require.NoError(t, h.repo.UpsertActivity(&models.Activity{ID: 1, AthleteID: 42, Name: "Run 1"}))
	require.NoError(t, h.repo.UpsertActivity(&models.Activity{ID: 2, AthleteID: 42, Name: "Run 2"}))

	event := h.ingestAndProcess(t, `{"object_type":"athlete","object_id":42,"aspect_type":"update","owner_id":42,"updates":{"authorized":"false"}}`)
	assert.Equal(t, models.WebhookEventStatusSuccess, event.Status)

	metadata := h.metadata(t, event)
	assert.Equal(t, float64(2), metadata["activities_soft_deleted"])

	stored, err := h.repo.ListActivities(42, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)

	var athlete models.Athlete
	require.NoError(t, h.db.First(&athlete, "id = ?", 42).Error)
	assert.False(t, athlete.HasCredential())
}

func TestProcess_UnhandledShapeIsSkipped(t *testing.T) {
	h := newHarness(t)

	event := h.ingestAndProcess(t, `{"object_type":"segment","object_id":1,"aspect_type":"create","owner_id":42}`)
	assert.Equal(t, models.WebhookEventStatusSkipped, event.Status)
	assert.Contains(t, event.Error, "object_type=segment")
	assert.Equal(t, 0, h.fetcher.calls)
}
