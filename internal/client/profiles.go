package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// ServiceTokenHeader carries the signed service id between services.
const ServiceTokenHeader = "X-Service-Token"

// ProfileRetry is the delivery schedule for profile creation: five
// attempts, 1s doubling up to 60s.
var ProfileRetry = utils.RetryPolicy{Attempts: 5, Base: time.Second, Max: 60 * time.Second}

// ProfilesClient creates user profiles in the profiles service.
type ProfilesClient struct {
	baseURL string
	http    *http.Client
	tokens  *TokenManager
	retry   utils.RetryPolicy
	log     *slog.Logger
}

func NewProfilesClient(baseURL string, tokens *TokenManager, hc *http.Client, log *slog.Logger) *ProfilesClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &ProfilesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		tokens:  tokens,
		retry:   ProfileRetry,
		log:     logger.Resolve(log),
	}
}

// WithRetry replaces the delivery schedule.
func (c *ProfilesClient) WithRetry(p utils.RetryPolicy) *ProfilesClient {
	cp := *c
	cp.retry = p
	return &cp
}

type createProfile struct {
	UserID    string `json:"user_id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// CreateProfile posts the new user to the profiles service.  Network
// errors, 429 and 5xx answers are retried; other 4xx answers are final.
// A 409 means the profile exists already and counts as success.
func (c *ProfilesClient) CreateProfile(ctx context.Context, ev queue.UserRegisteredEvent) error {
	body, err := json.Marshal(createProfile{
		UserID:    ev.UserID,
		Login:     ev.Login,
		Email:     ev.Email,
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
	})
	if err != nil {
		return err
	}
	attempt := 0
	err = utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		err := c.post(ctx, body)
		if err != nil {
			c.log.Warn("profile create attempt failed", "user_id", ev.UserID, "attempt", attempt, "error", err.Error())
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("create profile %s: %w", ev.UserID, err)
	}
	c.log.Info("profile created", "user_id", ev.UserID)
	return nil
}

func (c *ProfilesClient) post(ctx context.Context, body []byte) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return utils.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/profiles", bytes.NewReader(body))
	if err != nil {
		return utils.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ServiceTokenHeader, tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("profiles service: status %d", resp.StatusCode)
	default:
		return utils.Permanent(fmt.Errorf("profiles service: status %d", resp.StatusCode))
	}
}
