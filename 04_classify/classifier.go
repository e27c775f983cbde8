// Package classify decides which layout a clip is composed with.
package classify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"twitch-shorts-pipeline/types"
)

// GameLookup resolves game information the catalog entry did not carry.
type GameLookup interface {
	ClipGameID(ctx context.Context, token, clipID string) (string, error)
	GameName(ctx context.Context, token, gameID string) (string, error)
}

// Classifier maps clips to a composition variant.
type Classifier struct {
	lookup   GameLookup
	keywords []string
	logger   zerolog.Logger
}

// New creates a Classifier. Game names containing any keyword are chatting.
func New(lookup GameLookup, keywords []string, logger zerolog.Logger) *Classifier {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Classifier{lookup: lookup, keywords: kw, logger: logger}
}

// Classify never fails: a clip whose game cannot be determined is chatting.
func (c *Classifier) Classify(ctx context.Context, token string, clip types.ClipRecord) types.Variant {
	name := c.gameName(ctx, token, clip)
	if name == "" {
		return types.VariantChatting
	}
	lower := strings.ToLower(name)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return types.VariantChatting
		}
	}
	return types.VariantGameplay
}

func (c *Classifier) gameName(ctx context.Context, token string, clip types.ClipRecord) string {
	if clip.GameName != nil && *clip.GameName != "" {
		return *clip.GameName
	}
	if c.lookup == nil {
		return ""
	}

	gameID := ""
	if clip.HasGame() {
		gameID = *clip.GameID
	} else {
		id, err := c.lookup.ClipGameID(ctx, token, clip.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("clip", clip.ID).Msg("clip game lookup failed")
			return ""
		}
		gameID = id
	}
	if gameID == "" {
		return ""
	}

	name, err := c.lookup.GameName(ctx, token, gameID)
	if err != nil {
		c.logger.Warn().Err(err).Str("clip", clip.ID).Str("game", gameID).Msg("game name lookup failed")
		return ""
	}
	return name
}
