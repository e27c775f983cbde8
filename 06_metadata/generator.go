// Package metadata builds the YouTube title, description and tags of a short.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// youtubeTagBudget is YouTube's limit on the summed length of all tags.
const youtubeTagBudget = 500

const systemPrompt = `Tu es un expert SEO YouTube spécialisé dans les Shorts issus de clips Twitch.
Réponds UNIQUEMENT avec un objet JSON valide, sans markdown ni explication.

Champs obligatoires :
- "title": string (accrocheur, fidèle au clip, 80 caractères max, sans hashtag)
- "description": string (2 à 4 phrases qui donnent envie de regarder)
- "tags": tableau de 5 à 15 strings`

// Completer sends one chat completion and returns the raw answer.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator produces upload metadata from a clip.
type Generator struct {
	cfg    config.MetadataConfig
	upload config.UploadConfig
	llm    Completer
	logger zerolog.Logger
}

// New creates a Generator. llm may be nil, in which case only the template is used.
func New(cfg *config.Config, llm Completer, logger zerolog.Logger) *Generator {
	return &Generator{cfg: cfg.Metadata, upload: cfg.Upload, llm: llm, logger: logger}
}

// FromConfig wires the Groq completer when metadata.use_llm is set and
// GROQ_API_KEY is available.
func FromConfig(cfg *config.Config, logger zerolog.Logger) *Generator {
	var llm Completer
	if cfg.Metadata.UseLLM {
		if key := os.Getenv("GROQ_API_KEY"); key != "" {
			llm = NewOpenAICompleter(key, cfg.Metadata.BaseURL, cfg.Metadata.Model)
		} else {
			logger.Warn().Msg("metadata.use_llm is set but GROQ_API_KEY is empty, using templates")
		}
	}
	return New(cfg, llm, logger)
}

type llmMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Generate never fails on LLM errors: it falls back to the template.
func (g *Generator) Generate(ctx context.Context, clip types.ClipRecord) (*types.VideoMetadata, error) {
	if clip.ID == "" {
		return nil, fmt.Errorf("clip has no id")
	}

	meta := g.template(clip)
	if g.llm == nil {
		return meta, nil
	}

	proposed, err := g.ask(ctx, clip)
	if err != nil {
		g.logger.Warn().Err(err).Str("clip", clip.ID).Msg("llm metadata failed, using template")
		return meta, nil
	}

	if t := strings.TrimSpace(proposed.Title); t != "" {
		meta.Title = g.title(t)
	}
	if d := strings.TrimSpace(proposed.Description); d != "" {
		meta.Description = d + "\n\n" + g.credits(clip)
	}
	meta.Tags = limitTags(append(meta.Tags, proposed.Tags...))
	g.logger.Debug().Str("clip", clip.ID).Str("title", meta.Title).Msg("llm metadata")
	return meta, nil
}

func (g *Generator) ask(ctx context.Context, clip types.ClipRecord) (*llmMetadata, error) {
	raw, err := g.llm.Complete(ctx, systemPrompt, buildPrompt(clip))
	if err != nil {
		return nil, err
	}
	var out llmMetadata
	content := cleanJSON(raw)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("parse metadata JSON: %w (content: %s)", err, truncate(content, 200))
	}
	return &out, nil
}

func buildPrompt(clip types.ClipRecord) string {
	var sb strings.Builder
	sb.WriteString("Génère les métadonnées YouTube de ce Short.\n\n")
	sb.WriteString(fmt.Sprintf("TITRE DU CLIP : %s\n", clip.Title))
	sb.WriteString(fmt.Sprintf("STREAMER : %s\n", clip.BroadcasterName))
	if clip.GameName != nil && *clip.GameName != "" {
		sb.WriteString(fmt.Sprintf("JEU : %s\n", *clip.GameName))
	}
	sb.WriteString(fmt.Sprintf("DURÉE : %.0f secondes\n", clip.DurationSeconds))
	sb.WriteString(fmt.Sprintf("VUES : %d\n\n", clip.ViewerCount))
	sb.WriteString("Réponds UNIQUEMENT avec du JSON valide.")
	return sb.String()
}

func (g *Generator) template(clip types.ClipRecord) *types.VideoMetadata {
	base := strings.TrimSpace(clip.Title)
	if base == "" {
		base = "Clip de " + clip.BroadcasterName
	}

	desc := base + "\n\n" + g.credits(clip)

	tags := append([]string{}, g.cfg.Tags...)
	if clip.BroadcasterName != "" {
		tags = append(tags, clip.BroadcasterName)
	}
	if clip.GameName != nil && *clip.GameName != "" {
		tags = append(tags, *clip.GameName)
	}

	return &types.VideoMetadata{
		Title:       g.title(base),
		Description: desc,
		Tags:        limitTags(tags),
		CategoryID:  g.cfg.CategoryID,
		Visibility:  g.upload.Visibility,
		Language:    g.upload.DefaultLanguage,
	}
}

// credits attributes the streamer; it is always kept in the description.
func (g *Generator) credits(clip types.ClipRecord) string {
	var lines []string
	if clip.BroadcasterName != "" {
		lines = append(lines, fmt.Sprintf("🎥 Clip de @%s : https://www.twitch.tv/%s", clip.BroadcasterName, strings.ToLower(clip.BroadcasterName)))
	}
	if clip.URL != "" {
		lines = append(lines, "🔗 Clip original : "+clip.URL)
	}
	if clip.GameName != nil && *clip.GameName != "" {
		lines = append(lines, "🎮 "+*clip.GameName)
	}
	if len(g.cfg.Hashtags) > 0 {
		lines = append(lines, "", strings.Join(g.cfg.Hashtags, " "))
	}
	return strings.Join(lines, "\n")
}

// title appends #shorts and keeps the result within the configured length.
func (g *Generator) title(base string) string {
	const suffix = " #shorts"
	limit := g.cfg.TitleMaxChars
	if limit <= 0 {
		limit = 100
	}
	base = strings.TrimSpace(base)
	if strings.Contains(strings.ToLower(base), "#shorts") {
		return truncate(base, limit)
	}
	room := limit - len([]rune(suffix))
	if room <= 0 {
		return truncate(base, limit)
	}
	return truncate(base, room) + suffix
}

// limitTags drops duplicates (case-insensitive) and stops at YouTube's budget.
func limitTags(tags []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	total := 0
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		n := len([]rune(t))
		if strings.Contains(t, " ") {
			n += 2 // YouTube counts the quotes around multi-word tags
		}
		if total+n > youtubeTagBudget {
			break
		}
		seen[key] = true
		total += n + 1
		out = append(out, t)
	}
	return out
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
