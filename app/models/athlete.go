package models

import "time"

// Athlete stores the Strava identity of a connected user together with the
// OAuth credential issued for it. Access and refresh tokens are opaque
// secrets and never serialized; exactly one live credential exists per
// athlete. Deauthorization clears the token columns but keeps the row so the
// athlete can reconnect later.
type Athlete struct {
	ID             int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Username       string     `gorm:"type:varchar(150)" json:"username"`
	FirstName      string     `gorm:"type:varchar(150)" json:"first_name"`
	LastName       string     `gorm:"type:varchar(150)" json:"last_name"`
	AccessToken    string     `gorm:"type:text" json:"-"`
	RefreshToken   string     `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasCredential reports whether the athlete currently holds a usable
// refresh token.
func (a *Athlete) HasCredential() bool {
	return a.RefreshToken != ""
}
