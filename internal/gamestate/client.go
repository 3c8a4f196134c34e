package gamestate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

// Client talks JSON over HTTP to the game-state service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createGameRequest struct {
	SessionID    string      `json:"sessionId"`
	Participants []string    `json:"participants"`
	Mode         models.Mode `json:"mode"`
	League       string      `json:"league,omitempty"`
}

type goldRewardRequest struct {
	Identity string `json:"identity"`
	Amount   int    `json:"amount"`
}

type activityRequest struct {
	Identity string         `json:"identity"`
	Kind     string         `json:"kind"`
	Details  map[string]any `json:"details,omitempty"`
}

func (c *Client) FetchQueuingProfile(ctx context.Context, identity string) (models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(identity)+"/queuing-profile", nil, &profile)
	return profile, err
}

func (c *Client) CreateGameSession(ctx context.Context, sessionID string, identities []string, mode models.Mode, league string) error {
	return c.do(ctx, http.MethodPut, "/games/"+url.PathEscape(sessionID), createGameRequest{
		SessionID:    sessionID,
		Participants: identities,
		Mode:         mode,
		League:       league,
	}, nil)
}

func (c *Client) SaveGoldReward(ctx context.Context, identity string, amount int) error {
	if amount == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/gold-rewards", goldRewardRequest{Identity: identity, Amount: amount}, nil)
}

func (c *Client) LogQueueActivity(ctx context.Context, identity, kind string, details map[string]any) error {
	return c.do(ctx, http.MethodPost, "/queue-activity", activityRequest{Identity: identity, Kind: kind, Details: details}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
