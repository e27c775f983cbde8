package types

import "time"

// ClipRecord is one candidate clip returned by the catalog.
// Records are normalised at the catalog boundary and never mutated after.
type ClipRecord struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	EmbedURL        string    `json:"embed_url"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	Title           string    `json:"title"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	GameID          *string   `json:"game_id"`   // nil when the clip has no category
	GameName        *string   `json:"game_name"` // nil until looked up
	DurationSeconds float64   `json:"duration"`
	Language        string    `json:"language"`
	ViewerCount     int       `json:"viewer_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasGame reports whether the clip carries a game id.
func (c ClipRecord) HasGame() bool {
	return c.GameID != nil && *c.GameID != ""
}

// Handle returns the attribution handle shown on the short.
func (c ClipRecord) Handle() string {
	if c.BroadcasterName == "" {
		return ""
	}
	return "@" + c.BroadcasterName
}

// PublicationRecord is one published short in the history file.
type PublicationRecord struct {
	SourceClipID     string `json:"twitch_clip_id"`
	PublishedVideoID string `json:"youtube_short_id"`
	Timestamp        string `json:"timestamp"`
}

// Variant selects the composition layout
type Variant string

const (
	VariantGameplay Variant = "gameplay"
	VariantChatting Variant = "chatting"
)

// ParseVariant maps a user supplied name to a Variant.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case VariantGameplay, VariantChatting:
		return Variant(s), true
	}
	return "", false
}

// VideoMetadata holds all YouTube upload metadata
type VideoMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"category_id"`
	Visibility  string   `json:"visibility"`
	Language    string   `json:"language"`
}

// RunSummary is reported at the end of every run.
type RunSummary struct {
	RunID       string   `json:"run_id"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at"`
	Candidates  int      `json:"candidates"`
	Eligible    int      `json:"eligible"`
	Attempted   int      `json:"attempted"`
	Published   int      `json:"published"`
	Failed      int      `json:"failed"`
	VideoIDs    []string `json:"video_ids"`
	StopReason  string   `json:"stop_reason,omitempty"`
}
