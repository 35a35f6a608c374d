package solvedac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://solved.ac/api/v3"
	defaultTimeout = 15 * time.Second
)

// ErrUserNotFound reports that the handle does not exist on solved.ac. This is
// a definitive answer, not a transient failure.
var ErrUserNotFound = errors.New("solvedac: user not found")

// APIError wraps transient solved.ac failures (network errors, 5xx responses,
// timeouts). Callers must treat it as retryable and must not let it drive a
// terminal state transition.
type APIError struct {
	StatusCode int
	cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("solvedac: api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("solvedac: request failed: %v", e.cause)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Profile carries the public profile fields the platform consumes.
type Profile struct {
	Handle      string `json:"handle"`
	Bio         string `json:"bio"`
	Tier        int    `json:"tier"`
	Rating      int    `json:"rating"`
	SolvedCount int    `json:"solvedCount"`
	Class       int    `json:"class"`
}

// ClientConfig bundles configuration for the solved.ac API client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the public solved.ac v3 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a solved.ac API client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// UserProfile fetches the public profile (bio included) for a handle.
// Returns ErrUserNotFound when solved.ac reports the handle does not exist,
// and *APIError for transient failures.
func (c *Client) UserProfile(ctx context.Context, handle string) (Profile, error) {
	query := url.Values{"handle": []string{handle}}
	endpoint := fmt.Sprintf("%s/user/show?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("solvedac request failed", zap.String("handle", handle), zap.Error(err))
		return Profile{}, &APIError{cause: err}
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return Profile{}, ErrUserNotFound
	case response.StatusCode != http.StatusOK:
		c.logger.Debug("solvedac unexpected status",
			zap.String("handle", handle),
			zap.Int("status", response.StatusCode))
		return Profile{}, &APIError{StatusCode: response.StatusCode}
	}

	var profile Profile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return Profile{}, &APIError{cause: err}
	}

	return profile, nil
}
