package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sponsorrun/SponsorRun/internal/pkg/env"
)

const (
	defaultTokenURL        = "https://www.strava.com/oauth/token"
	defaultAPIBaseURL      = "https://www.strava.com/api/v3"
	defaultSubscriptionURL = "https://www.strava.com/api/v3/push_subscriptions"
)

// ErrInvalidGrant is returned by token operations when the provider rejects
// the refresh token itself (authorization revoked by the athlete), as opposed
// to a transport failure or an unrelated upstream error.
var ErrInvalidGrant = errors.New("strava: refresh token no longer valid")

// APIError is a non-2xx response from the Strava API with its status code
// preserved so callers can distinguish 401/404 from server-side failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api error: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	ClientID     string
	ClientSecret string
	VerifyToken  string

	TokenURL        string
	APIBaseURL      string
	SubscriptionURL string

	HTTPClient *http.Client
}

type TokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int           `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	TokenType    string        `json:"token_type"`
	Athlete      *TokenAthlete `json:"athlete,omitempty"`
}

// TokenAthlete is the athlete summary Strava attaches to the
// authorization-code exchange response.
type TokenAthlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Activity is the subset of the upstream activity detail the reconciliation
// layer cares about. The raw body is kept alongside it for storage.
type Activity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SportType  string    `json:"sport_type"`
	Type       string    `json:"type"`
	Distance   float64   `json:"distance"`
	MovingTime int       `json:"moving_time"`
	StartDate  time.Time `json:"start_date"`
	Athlete    struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// Subscription is an upstream push subscription record.
type Subscription struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func NewClientFromEnv() *Client {
	return &Client{
		ClientID:        strings.TrimSpace(env.GetEnv("STRAVA_CLIENT_ID", "")),
		ClientSecret:    strings.TrimSpace(env.GetEnv("STRAVA_CLIENT_SECRET", "")),
		VerifyToken:     strings.TrimSpace(env.GetEnv("STRAVA_WEBHOOK_VERIFY_TOKEN", "")),
		TokenURL:        strings.TrimSpace(env.GetEnv("STRAVA_TOKEN_URL", defaultTokenURL)),
		APIBaseURL:      strings.TrimSpace(env.GetEnv("STRAVA_API_BASE_URL", defaultAPIBaseURL)),
		SubscriptionURL: strings.TrimSpace(env.GetEnv("STRAVA_SUBSCRIPTION_URL", defaultSubscriptionURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ExchangeCode trades an authorization code for the athlete's first token set.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("oauth code is required")
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", strings.TrimSpace(code))
	form.Set("grant_type", "authorization_code")

	return c.tokenRequest(ctx, form)
}

// RefreshToken performs the refresh-token grant. A 400/401 whose error
// payload marks the refresh token invalid is surfaced as ErrInvalidGrant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidGrant
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("refresh_token", strings.TrimSpace(refreshToken))
	form.Set("grant_type", "refresh_token")

	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (*TokenResponse, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, errors.New("STRAVA_CLIENT_ID/STRAVA_CLIENT_SECRET are not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if isInvalidGrant(resp.StatusCode, body) {
			return nil, fmt.Errorf("%w: status=%d", ErrInvalidGrant, resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, errors.New("strava token endpoint returned empty access_token")
	}
	return &out, nil
}

// isInvalidGrant checks whether a token-endpoint error payload reports the
// grant itself as invalid rather than a transient upstream problem.
func isInvalidGrant(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}

	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Resource string `json:"resource"`
			Field    string `json:"field"`
			Code     string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Token endpoint 400/401 without a parseable body still means the
		// grant was rejected.
		return true
	}
	for _, e := range payload.Errors {
		if e.Code == "invalid" {
			return true
		}
	}
	return strings.EqualFold(strings.TrimSpace(payload.Message), "bad request") ||
		strings.EqualFold(strings.TrimSpace(payload.Message), "authorization error")
}

// GetActivity fetches the full activity detail. The raw response body is
// returned alongside the parsed record for persistence.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*Activity, []byte, error) {
	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/activities/" + strconv.FormatInt(activityID, 10)
	body, err := c.apiGet(ctx, accessToken, endpoint)
	if err != nil {
		return nil, nil, err
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, nil, fmt.Errorf("failed to decode activity %d: %w", activityID, err)
	}
	return &activity, body, nil
}

// ListAthleteActivities fetches the authenticated athlete's recent activities.
func (c *Client) ListAthleteActivities(ctx context.Context, accessToken string, page, perPage int) ([]Activity, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}

	endpoint := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d",
		strings.TrimRight(c.APIBaseURL, "/"), page, perPage)
	body, err := c.apiGet(ctx, accessToken, endpoint)
	if err != nil {
		return nil, err
	}

	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("failed to decode activities: %w", err)
	}
	return activities, nil
}

func (c *Client) apiGet(ctx context.Context, accessToken, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// CreateSubscription registers the webhook callback with the provider.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL string) (*Subscription, error) {
	if strings.TrimSpace(callbackURL) == "" {
		return nil, errors.New("callback_url is required")
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("callback_url", strings.TrimSpace(callbackURL))
	form.Set("verify_token", c.VerifyToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SubscriptionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava subscription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns the currently registered push subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	endpoint := fmt.Sprintf("%s?client_id=%s&client_secret=%s",
		c.SubscriptionURL, url.QueryEscape(c.ClientID), url.QueryEscape(c.ClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava subscription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var subs []Subscription
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscription removes a push subscription by id.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID int64) error {
	endpoint := fmt.Sprintf("%s/%d?client_id=%s&client_secret=%s",
		c.SubscriptionURL, subscriptionID, url.QueryEscape(c.ClientID), url.QueryEscape(c.ClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("strava subscription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
