package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sponsorrun/SponsorRun/app/models"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
	"github.com/sponsorrun/SponsorRun/internal/pkg/tokens"
)

// TokenSource hands out valid access tokens per athlete.
type TokenSource interface {
	EnsureValid(ctx context.Context, athleteID int64) (string, error)
}

// ActivityFetcher loads the full activity record from the upstream API.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, []byte, error)
}

// Dispatcher hands a persisted event off for background processing. It must
// not block; the ack path depends on it returning immediately.
type Dispatcher func(eventID string)

// Service ingests inbound webhook events and fulfills them asynchronously.
type Service struct {
	repo     Repository
	tokens   TokenSource
	fetcher  ActivityFetcher
	dispatch Dispatcher
}

func NewService(repo Repository, tokens TokenSource, fetcher ActivityFetcher, dispatch Dispatcher) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		fetcher:  fetcher,
		dispatch: dispatch,
	}
}

// Ingest persists a processing record for the raw payload and dispatches
// background fulfillment. It returns as soon as the row is written so the
// sender's delivery deadline is never exposed to downstream latency.
func (s *Service) Ingest(eventType string, payload []byte, meta map[string]interface{}) (string, error) {
	event := &models.WebhookEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   string(payload),
		Status:    models.WebhookEventStatusProcessing,
		StartedAt: time.Now(),
	}

	// Owner id is extracted best-effort for queryability; classification
	// happens later in the background task.
	if parsed, err := ParsePushEvent(payload); err == nil {
		event.AthleteID = parsed.OwnerID
	}

	if meta == nil {
		meta = map[string]interface{}{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode event metadata: %w", err)
	}
	event.Metadata = string(encoded)

	if err := s.repo.CreateEvent(event); err != nil {
		return "", fmt.Errorf("failed to persist webhook event: %w", err)
	}

	log.Infof("[Webhook] Ingested %s event %s", eventType, event.ID)
	s.dispatch(event.ID)
	return event.ID, nil
}

// Process runs one event to a terminal status. Downstream failures are
// recorded on the event and swallowed; the ack has already been sent, so
// there is nobody left to propagate them to.
func (s *Service) Process(ctx context.Context, eventID string) error {
	event, err := s.repo.GetEvent(eventID)
	if err != nil {
		return fmt.Errorf("webhook event %s not found: %w", eventID, err)
	}
	if event.IsTerminal() {
		// Redelivered job for an already-finished event; terminal statuses
		// never transition back.
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Webhook] Panic processing event %s: %v", eventID, r)
			s.finish(eventID, models.WebhookEventStatusError, fmt.Sprintf("panic: %v", r))
		}
	}()

	parsed, err := ParsePushEvent([]byte(event.Payload))
	if err != nil {
		s.finish(eventID, models.WebhookEventStatusError, err.Error())
		return nil
	}

	kind := Classify(parsed)
	_ = s.repo.MergeMetadata(eventID, map[string]interface{}{"classification": string(kind)})

	switch kind {
	case KindActivityCreate, KindActivityUpdate:
		s.processActivityUpsert(ctx, eventID, parsed)
	case KindActivityDelete:
		s.processActivityDelete(eventID, parsed)
	case KindAthleteDeauthorize:
		s.processDeauthorization(eventID, parsed.OwnerID)
	default:
		s.finish(eventID, models.WebhookEventStatusSkipped,
			fmt.Sprintf("unhandled event shape: object_type=%s aspect_type=%s", parsed.ObjectType, parsed.AspectType))
	}
	return nil
}

func (s *Service) processActivityUpsert(ctx context.Context, eventID string, parsed PushEvent) {
	accessToken, err := s.tokens.EnsureValid(ctx, parsed.OwnerID)
	if err != nil {
		if errors.Is(err, tokens.ErrAuthRevoked) {
			// The provider says this athlete is gone; run the same cleanup a
			// deauthorization webhook would, then record the failure.
			log.Warnf("[Webhook] Authorization revoked for athlete %d, cleaning up", parsed.OwnerID)
			s.deauthorizeAthlete(eventID, parsed.OwnerID)
			s.finish(eventID, models.WebhookEventStatusFailed, "athlete authorization revoked")
			return
		}
		s.finish(eventID, models.WebhookEventStatusFailed, err.Error())
		return
	}

	activity, rawBody, err := s.fetcher.GetActivity(ctx, accessToken, parsed.ObjectID)
	if err != nil {
		var apiErr *strava.APIError
		if errors.As(err, &apiErr) {
			_ = s.repo.MergeMetadata(eventID, map[string]interface{}{"upstream_status": apiErr.StatusCode})
			s.finish(eventID, models.WebhookEventStatusFailed,
				fmt.Sprintf("upstream activity fetch rejected: status=%d", apiErr.StatusCode))
			return
		}
		s.finish(eventID, models.WebhookEventStatusFailed, err.Error())
		return
	}

	record := activityRecord(parsed, activity, rawBody)
	if err := record.Validate(); err != nil {
		s.finish(eventID, models.WebhookEventStatusError, fmt.Sprintf("activity record invalid: %v", err))
		return
	}
	upsertErr := s.repo.UpsertActivity(record)
	_ = s.repo.AppendDatabaseOp(eventID, "upsert_activity", upsertErr)
	if upsertErr != nil {
		s.finish(eventID, models.WebhookEventStatusError, upsertErr.Error())
		return
	}

	_ = s.repo.MergeMetadata(eventID, map[string]interface{}{
		"activity": map[string]interface{}{
			"id":         record.ID,
			"name":       record.Name,
			"sport_type": record.SportType,
			"source":     "strava-api",
		},
	})
	s.finish(eventID, models.WebhookEventStatusSuccess, "")
}

func (s *Service) processActivityDelete(eventID string, parsed PushEvent) {
	deleted, err := s.repo.SoftDeleteActivity(parsed.ObjectID, parsed.OwnerID)
	_ = s.repo.AppendDatabaseOp(eventID, "soft_delete_activity", err)
	if err != nil {
		s.finish(eventID, models.WebhookEventStatusError, err.Error())
		return
	}
	if !deleted {
		// Delete for an activity we never stored is a no-op, not a failure.
		_ = s.repo.MergeMetadata(eventID, map[string]interface{}{"delete_noop": true})
	}
	s.finish(eventID, models.WebhookEventStatusSuccess, "")
}

func (s *Service) processDeauthorization(eventID string, athleteID int64) {
	if err := s.deauthorizeAthlete(eventID, athleteID); err != nil {
		s.finish(eventID, models.WebhookEventStatusError, err.Error())
		return
	}
	s.finish(eventID, models.WebhookEventStatusSuccess, "")
}

// deauthorizeAthlete soft-deletes all the athlete's activities and clears the
// stored credential. The athlete row itself stays so re-authorization works.
func (s *Service) deauthorizeAthlete(eventID string, athleteID int64) error {
	count, err := s.repo.SoftDeleteAthleteActivities(athleteID)
	_ = s.repo.AppendDatabaseOp(eventID, "soft_delete_athlete_activities", err)
	if err != nil {
		return err
	}

	err = s.repo.ClearAthleteTokens(athleteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = nil
	}
	_ = s.repo.AppendDatabaseOp(eventID, "clear_athlete_tokens", err)
	if err != nil {
		return err
	}

	_ = s.repo.MergeMetadata(eventID, map[string]interface{}{"activities_soft_deleted": count})
	log.Infof("[Webhook] Deauthorized athlete %d, soft-deleted %d activities", athleteID, count)
	return nil
}

func (s *Service) finish(eventID, status, errMsg string) {
	if err := s.repo.FinishEvent(eventID, status, errMsg); err != nil {
		log.Errorf("[Webhook] Failed to finish event %s as %s: %v", eventID, status, err)
	} else {
		log.Infof("[Webhook] Event %s finished: %s", eventID, status)
	}
}

func activityRecord(parsed PushEvent, activity *strava.Activity, rawBody []byte) *models.Activity {
	sport := activity.SportType
	if sport == "" {
		sport = activity.Type
	}

	record := &models.Activity{
		ID:         parsed.ObjectID,
		AthleteID:  parsed.OwnerID,
		Name:       activity.Name,
		SportType:  sport,
		Distance:   activity.Distance,
		MovingTime: activity.MovingTime,
		RawPayload: string(rawBody),
		IsDeleted:  false,
	}
	if !activity.StartDate.IsZero() {
		start := activity.StartDate
		record.StartDate = &start
	}
	return record
}
