package tokens

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sponsorrun/SponsorRun/app/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a credential store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetAthlete(ctx context.Context, athleteID int64) (*models.Athlete, error) {
	var athlete models.Athlete
	if err := s.db.WithContext(ctx).First(&athlete, "id = ?", athleteID).Error; err != nil {
		return nil, err
	}
	return &athlete, nil
}

func (s *gormStore) UpdateTokens(ctx context.Context, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	// Single UPDATE keeps token and expiry in sync at all times.
	return s.db.WithContext(ctx).Model(&models.Athlete{}).
		Where("id = ?", athleteID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		}).Error
}
