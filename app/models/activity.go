package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Activity mirrors one upstream activity. The primary key is the
// upstream-assigned activity id, which makes webhook redelivery an upsert
// instead of a duplicate insert. Rows are soft-deleted only; history is kept
// for donation accounting.
type Activity struct {
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id" validate:"required"`
	AthleteID  int64      `gorm:"index;not null" json:"athlete_id" validate:"required"`
	Name       string     `gorm:"type:varchar(255)" json:"name"`
	SportType  string     `gorm:"type:varchar(50);index" json:"sport_type"`
	Distance   float64    `json:"distance"`
	MovingTime int        `json:"moving_time"`
	StartDate  *time.Time `gorm:"type:timestamp;default:null" json:"start_date,omitempty"`
	RawPayload string     `gorm:"type:longtext" json:"-"`
	IsDeleted  bool       `gorm:"default:false;index" json:"is_deleted"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Activity) Validate() error {
	v := validator.New()

	return v.Struct(a)
}
