// Package ranking looks characters up on the public ranking service.
package ranking

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rosterbot/pkg/types"
)

const maxBodyBytes = 1 << 20

// Config configures the ranking client.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	SeasonField string        `yaml:"season_field"`
	UserAgent   string        `yaml:"user_agent"`
}

// DefaultConfig returns the public service endpoint and a 10s timeout.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://raider.io",
		Timeout:     10 * time.Second,
		SeasonField: "mythic_plus_scores_by_season:current",
		UserAgent:   "rosterbot/1.0",
	}
}

// Client implements interfaces.RankingClient over HTTP.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client. A nil httpClient gets one with config.Timeout.
func NewClient(config Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		http:   httpClient,
		logger: logger.With("component", "ranking"),
	}
}

type profileResponse struct {
	Name    string `json:"name"`
	Class   string `json:"class"`
	Realm   string `json:"realm"`
	Region  string `json:"region"`
	Seasons []struct {
		Season string `json:"season"`
		Scores struct {
			All float64 `json:"all"`
		} `json:"scores"`
	} `json:"mythic_plus_scores_by_season"`
}

// Lookup fetches the profile for link. Every failure, including timeouts,
// non-200 answers and unparseable bodies, is a KindExternalLookupFailed.
func (c *Client) Lookup(ctx context.Context, link types.ProfileLink) (*types.RankingProfile, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	endpoint := c.profileURL(link)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.WrapError(types.KindExternalLookupFailed, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ranking lookup failed", "region", link.Region, "realm", link.Realm, "name", link.Name, "error", err)
		return nil, types.WrapError(types.KindExternalLookupFailed, err, "request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, types.WrapError(types.KindExternalLookupFailed, err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ranking lookup rejected", "status", resp.StatusCode, "name", link.Name)
		return nil, types.NewError(types.KindExternalLookupFailed, "ranking service returned %d", resp.StatusCode)
	}

	var payload profileResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, types.WrapError(types.KindExternalLookupFailed, err, "decode profile")
	}
	if strings.TrimSpace(payload.Name) == "" {
		return nil, types.NewError(types.KindExternalLookupFailed, "profile has no character name")
	}

	profile := &types.RankingProfile{
		Name:   payload.Name,
		Class:  payload.Class,
		Realm:  payload.Realm,
		Region: payload.Region,
	}
	if len(payload.Seasons) > 0 {
		profile.Score = payload.Seasons[0].Scores.All
	}

	c.logger.Debug("ranking lookup", "name", profile.Name, "score", profile.Score, "elapsed", time.Since(start))
	return profile, nil
}

func (c *Client) profileURL(link types.ProfileLink) string {
	q := url.Values{}
	q.Set("region", link.Region)
	q.Set("realm", link.Realm)
	q.Set("name", link.Name)
	if c.config.SeasonField != "" {
		q.Set("fields", c.config.SeasonField)
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/api/v1/characters/profile?" + q.Encode()
}
