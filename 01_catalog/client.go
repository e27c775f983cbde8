// Package catalog lists a broadcaster's recent clips from the Twitch Helix API.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// helixMaxPage is the largest page Helix serves for /clips.
const helixMaxPage = 100

// Query selects the clips of one broadcaster created inside a window.
type Query struct {
	BroadcasterID string
	StartedAt     time.Time
	EndedAt       time.Time
	First         int
}

// Window returns the eligibility window ending at now.
func Window(now time.Time, lookback time.Duration) (time.Time, time.Time) {
	end := now.UTC().Truncate(time.Second)
	return end.Add(-lookback), end
}

// Client talks to the Helix API.
type Client struct {
	apiURL     string
	clientID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Helix client.
func New(cfg config.TwitchConfig, clientID string, logger zerolog.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		clientID:   clientID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type helixClip struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	EmbedURL        string  `json:"embed_url"`
	BroadcasterID   string  `json:"broadcaster_id"`
	BroadcasterName string  `json:"broadcaster_name"`
	GameID          string  `json:"game_id"`
	GameName        string  `json:"game_name"`
	Language        string  `json:"language"`
	Title           string  `json:"title"`
	ViewCount       int     `json:"view_count"`
	CreatedAt       string  `json:"created_at"`
	ThumbnailURL    string  `json:"thumbnail_url"`
	Duration        float64 `json:"duration"`
}

type helixGame struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type helixPage[T any] struct {
	Data []T `json:"data"`
}

// FetchClips returns the clips matching q, normalised to ClipRecord.
func (c *Client) FetchClips(ctx context.Context, token string, q Query) ([]types.ClipRecord, error) {
	first := q.First
	if first <= 0 || first > helixMaxPage {
		first = helixMaxPage
	}
	params := url.Values{}
	params.Set("broadcaster_id", q.BroadcasterID)
	params.Set("first", strconv.Itoa(first))
	if !q.StartedAt.IsZero() {
		params.Set("started_at", q.StartedAt.UTC().Format(time.RFC3339))
	}
	if !q.EndedAt.IsZero() {
		params.Set("ended_at", q.EndedAt.UTC().Format(time.RFC3339))
	}

	var page helixPage[helixClip]
	if err := c.get(ctx, token, "/clips", params, &page); err != nil {
		return nil, fmt.Errorf("fetch clips: %w", err)
	}

	clips := make([]types.ClipRecord, 0, len(page.Data))
	for _, hc := range page.Data {
		if hc.ID == "" {
			continue
		}
		clips = append(clips, normalise(hc))
	}
	c.logger.Debug().Int("clips", len(clips)).Str("broadcaster", q.BroadcasterID).Msg("fetched clips")
	return clips, nil
}

// ClipGameID looks up the game of a single clip. It returns "" when the clip
// has no game or does not exist.
func (c *Client) ClipGameID(ctx context.Context, token, clipID string) (string, error) {
	var page helixPage[helixClip]
	if err := c.get(ctx, token, "/clips", url.Values{"id": {clipID}}, &page); err != nil {
		return "", fmt.Errorf("lookup clip %s: %w", clipID, err)
	}
	if len(page.Data) == 0 {
		return "", nil
	}
	return page.Data[0].GameID, nil
}

// GameName resolves a game id to its display name, "" when unknown.
func (c *Client) GameName(ctx context.Context, token, gameID string) (string, error) {
	var page helixPage[helixGame]
	if err := c.get(ctx, token, "/games", url.Values{"id": {gameID}}, &page); err != nil {
		return "", fmt.Errorf("lookup game %s: %w", gameID, err)
	}
	if len(page.Data) == 0 {
		return "", nil
	}
	return page.Data[0].Name, nil
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values, out any) error {
	reqURL := c.apiURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode helix %s: %w", path, err)
	}
	return nil
}

func normalise(hc helixClip) types.ClipRecord {
	rec := types.ClipRecord{
		ID:              hc.ID,
		URL:             hc.URL,
		EmbedURL:        hc.EmbedURL,
		ThumbnailURL:    hc.ThumbnailURL,
		Title:           hc.Title,
		BroadcasterID:   hc.BroadcasterID,
		BroadcasterName: hc.BroadcasterName,
		DurationSeconds: hc.Duration,
		Language:        hc.Language,
		ViewerCount:     hc.ViewCount,
	}
	if hc.GameID != "" {
		id := hc.GameID
		rec.GameID = &id
	}
	if hc.GameName != "" {
		name := hc.GameName
		rec.GameName = &name
	}
	if t, err := time.Parse(time.RFC3339, hc.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	return rec
}
