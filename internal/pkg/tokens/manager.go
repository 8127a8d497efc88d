package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/sponsorrun/SponsorRun/app/models"
	"github.com/sponsorrun/SponsorRun/internal/pkg/strava"
)

// RefreshBuffer is how long before actual expiry a token is already treated
// as expired, so a fetch started now cannot outlive its token.
const RefreshBuffer = 5 * time.Minute

var (
	// ErrAuthRevoked means the provider rejected the refresh token itself.
	// The caller should run deauthorization cleanup instead of retrying.
	ErrAuthRevoked = errors.New("tokens: athlete authorization revoked")

	// ErrNoCredential means no refresh token is stored for the athlete.
	ErrNoCredential = errors.New("tokens: no stored credential for athlete")
)

// Store is the credential persistence used by the manager. UpdateTokens must
// write all three columns in one statement so the stored access token and its
// expiry can never disagree.
type Store interface {
	GetAthlete(ctx context.Context, athleteID int64) (*models.Athlete, error)
	UpdateTokens(ctx context.Context, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error
}

// RefreshClient performs the upstream refresh-token grant.
type RefreshClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*strava.TokenResponse, error)
}

// Manager hands out valid access tokens, refreshing proactively inside the
// configured buffer. Concurrent callers for the same athlete share a single
// upstream refresh; refresh tokens are single-use upstream, so a duplicate
// refresh would clobber the newer token.
type Manager struct {
	store  Store
	client RefreshClient
	buffer time.Duration
	group  singleflight.Group
}

func NewManager(store Store, client RefreshClient) *Manager {
	return &Manager{
		store:  store,
		client: client,
		buffer: RefreshBuffer,
	}
}

// EnsureValid returns an access token guaranteed to outlive the refresh
// buffer. It fails with ErrAuthRevoked when the provider reports the
// authorization gone, and with a wrapped refresh error otherwise.
func (m *Manager) EnsureValid(ctx context.Context, athleteID int64) (string, error) {
	athlete, err := m.store.GetAthlete(ctx, athleteID)
	if err != nil {
		return "", err
	}
	if !athlete.HasCredential() {
		return "", ErrNoCredential
	}

	if m.tokenUsable(athlete) {
		return athlete.AccessToken, nil
	}

	token, err, _ := m.group.Do(strconv.FormatInt(athleteID, 10), func() (interface{}, error) {
		return m.refresh(ctx, athleteID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) tokenUsable(a *models.Athlete) bool {
	if a.AccessToken == "" || a.TokenExpiresAt == nil {
		return false
	}
	return a.TokenExpiresAt.After(time.Now().Add(m.buffer))
}

func (m *Manager) refresh(ctx context.Context, athleteID int64) (string, error) {
	// Re-read inside the flight: a caller that queued behind a finished
	// refresh must use the new refresh token, not the one it saw before.
	athlete, err := m.store.GetAthlete(ctx, athleteID)
	if err != nil {
		return "", err
	}
	if !athlete.HasCredential() {
		return "", ErrNoCredential
	}
	if m.tokenUsable(athlete) {
		return athlete.AccessToken, nil
	}

	log.Infof("[Tokens] Refreshing access token for athlete %d", athleteID)

	resp, err := m.client.RefreshToken(ctx, athlete.RefreshToken)
	if err != nil {
		if errors.Is(err, strava.ErrInvalidGrant) {
			return "", fmt.Errorf("%w: %v", ErrAuthRevoked, err)
		}
		return "", fmt.Errorf("token refresh failed for athlete %d: %w", athleteID, err)
	}

	expiresAt := expiryFromResponse(resp)
	if err := m.store.UpdateTokens(ctx, athleteID, resp.AccessToken, resp.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens for athlete %d: %w", athleteID, err)
	}

	log.Infof("[Tokens] Refreshed token for athlete %d, valid until %s", athleteID, expiresAt.Format(time.RFC3339))
	return resp.AccessToken, nil
}

// expiryFromResponse prefers the provider's absolute expiry and falls back to
// the relative one.
func expiryFromResponse(resp *strava.TokenResponse) time.Time {
	if resp.ExpiresAt > 0 {
		return time.Unix(resp.ExpiresAt, 0)
	}
	return time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
}
