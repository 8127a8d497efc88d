package webhook

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sponsorrun/SponsorRun/app/models"
)

// EventFilter narrows event-log queries. Zero values mean "no filter".
type EventFilter struct {
	Type      string
	AthleteID int64
	Status    string
	Since     time.Time
	Limit     int
}

// EventStats is an aggregate view over the event log.
type EventStats struct {
	Total             int64            `json:"total"`
	ByType            map[string]int64 `json:"by_type"`
	ByStatus          map[string]int64 `json:"by_status"`
	AverageDurationMs int64            `json:"average_duration_ms"`
}

// Repository provides the Event Log Store plus the activity and credential
// writes performed during webhook fulfillment.
type Repository interface {
	CreateEvent(event *models.WebhookEvent) error
	GetEvent(id string) (*models.WebhookEvent, error)
	FinishEvent(id, status, errMsg string) error
	MergeMetadata(id string, patch map[string]interface{}) error
	AppendDatabaseOp(id, operation string, opErr error) error
	ListEvents(filter EventFilter) ([]models.WebhookEvent, error)
	EventStats() (*EventStats, error)
	DeleteEventsOlderThan(daysToKeep int) (int64, error)

	UpsertActivity(activity *models.Activity) error
	SoftDeleteActivity(activityID, athleteID int64) (bool, error)
	SoftDeleteAthleteActivities(athleteID int64) (int64, error)
	ListActivities(athleteID int64, limit int) ([]models.Activity, error)
	ClearAthleteTokens(athleteID int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a webhook repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEvent(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) GetEvent(id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FinishEvent records the terminal status, end time and duration. The status
// guard makes transitions monotonic: a row that already reached a terminal
// status is never rewritten, so late or duplicate workers cannot revert it.
func (r *gormRepository) FinishEvent(id, status, errMsg string) error {
	var event models.WebhookEvent
	if err := r.db.First(&event, "id = ?", id).Error; err != nil {
		return err
	}

	now := time.Now()
	duration := now.Sub(event.StartedAt).Milliseconds()

	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", id, models.WebhookEventStatusProcessing).
		Updates(map[string]interface{}{
			"status":      status,
			"ended_at":    &now,
			"duration_ms": duration,
			"error":       errMsg,
		}).Error
}

// MergeMetadata shallow-merges patch into the event's metadata bag. Existing
// keys not present in patch are kept; the bag is append-only by convention.
func (r *gormRepository) MergeMetadata(id string, patch map[string]interface{}) error {
	var event models.WebhookEvent
	if err := r.db.First(&event, "id = ?", id).Error; err != nil {
		return err
	}

	metadata := map[string]interface{}{}
	if event.Metadata != "" {
		if err := json.Unmarshal([]byte(event.Metadata), &metadata); err != nil {
			metadata = map[string]interface{}{"_corrupt_previous": event.Metadata}
		}
	}
	for k, v := range patch {
		metadata[k] = v
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("metadata", string(encoded)).Error
}

// AppendDatabaseOp appends one trace entry to the metadata "database" list.
func (r *gormRepository) AppendDatabaseOp(id, operation string, opErr error) error {
	var event models.WebhookEvent
	if err := r.db.First(&event, "id = ?", id).Error; err != nil {
		return err
	}

	metadata := map[string]interface{}{}
	if event.Metadata != "" {
		_ = json.Unmarshal([]byte(event.Metadata), &metadata)
	}

	ops, _ := metadata["database"].([]interface{})
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"operation": operation,
		"success":   opErr == nil,
	}
	if opErr != nil {
		entry["error"] = opErr.Error()
	}
	metadata["database"] = append(ops, entry)

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("metadata", string(encoded)).Error
}

func (r *gormRepository) ListEvents(filter EventFilter) ([]models.WebhookEvent, error) {
	query := r.db.Model(&models.WebhookEvent{}).Order("received_at DESC")

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.AthleteID != 0 {
		query = query.Where("athlete_id = ?", filter.AthleteID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		query = query.Where("received_at >= ?", filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var events []models.WebhookEvent
	err := query.Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) EventStats() (*EventStats, error) {
	type row struct {
		Type        string
		Status      string
		Count       int64
		AvgDuration *float64
	}

	var rows []row
	err := r.db.Model(&models.WebhookEvent{}).
		Select("type, status, COUNT(*) as count, AVG(duration_ms) as avg_duration").
		Group("type, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &EventStats{
		ByType:   map[string]int64{},
		ByStatus: map[string]int64{},
	}
	var weightedDuration float64
	var measured int64
	for _, r := range rows {
		stats.Total += r.Count
		stats.ByType[r.Type] += r.Count
		stats.ByStatus[r.Status] += r.Count
		if r.AvgDuration != nil {
			weightedDuration += *r.AvgDuration * float64(r.Count)
			measured += r.Count
		}
	}
	if measured > 0 {
		stats.AverageDurationMs = int64(weightedDuration / float64(measured))
	}
	return stats, nil
}

// DeleteEventsOlderThan removes events received before the cutoff and
// returns how many were deleted. This is the only path that removes rows.
func (r *gormRepository) DeleteEventsOlderThan(daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		daysToKeep = 0
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)

	result := r.db.Where("received_at < ?", cutoff).Delete(&models.WebhookEvent{})
	return result.RowsAffected, result.Error
}

// UpsertActivity inserts or updates an activity keyed by the upstream id, so
// redelivered create events update instead of duplicating.
func (r *gormRepository) UpsertActivity(activity *models.Activity) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"athlete_id",
			"name",
			"sport_type",
			"distance",
			"moving_time",
			"start_date",
			"raw_payload",
			"is_deleted",
			"updated_at",
		}),
	}).Create(activity).Error
}

// SoftDeleteActivity flags the activity deleted. Returns false when no row
// matched, which the caller treats as a no-op, not an error.
func (r *gormRepository) SoftDeleteActivity(activityID, athleteID int64) (bool, error) {
	result := r.db.Model(&models.Activity{}).
		Where("id = ? AND athlete_id = ?", activityID, athleteID).
		Update("is_deleted", true)
	return result.RowsAffected > 0, result.Error
}

func (r *gormRepository) SoftDeleteAthleteActivities(athleteID int64) (int64, error) {
	result := r.db.Model(&models.Activity{}).
		Where("athlete_id = ?", athleteID).
		Update("is_deleted", true)
	return result.RowsAffected, result.Error
}

func (r *gormRepository) ListActivities(athleteID int64, limit int) ([]models.Activity, error) {
	query := r.db.Model(&models.Activity{}).
		Where("is_deleted = ?", false).
		Order("start_date DESC")
	if athleteID != 0 {
		query = query.Where("athlete_id = ?", athleteID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var activities []models.Activity
	err := query.Limit(limit).Find(&activities).Error
	return activities, err
}

// ClearAthleteTokens wipes the credential columns but keeps the athlete row
// so a later re-authorization reuses the same identity.
func (r *gormRepository) ClearAthleteTokens(athleteID int64) error {
	return r.db.Model(&models.Athlete{}).
		Where("id = ?", athleteID).
		Updates(map[string]interface{}{
			"access_token":     "",
			"refresh_token":    "",
			"token_expires_at": nil,
		}).Error
}
