// Package orchestrator runs the daily clip-to-short pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	catalog "twitch-shorts-pipeline/01_catalog"
	selector "twitch-shorts-pipeline/02_select"
	compose "twitch-shorts-pipeline/05_compose"
	publish "twitch-shorts-pipeline/07_publish"
	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/history"
	"twitch-shorts-pipeline/types"
)

// Stop reasons reported in the run summary.
const (
	StopNoToken      = "no_token"
	StopNoEligible   = "no_eligible_clips"
	StopCapReached   = "publish_cap_reached"
	StopExhausted    = "candidates_exhausted"
	StopCancelled    = "cancelled"
	StopHistoryWrite = "history_write_failed"
)

type HistoryStore interface {
	Lock() error
	Unlock() error
	Load() (history.History, history.LoadStatus, error)
	PublishedToday(h history.History) map[string]bool
	Record(h history.History, clipID, videoID string) (types.PublicationRecord, error)
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Catalog interface {
	FetchClips(ctx context.Context, token string, q catalog.Query) ([]types.ClipRecord, error)
}

type Downloader interface {
	Download(ctx context.Context, clip types.ClipRecord, dest string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, token string, clip types.ClipRecord) types.Variant
}

type Composer interface {
	Compose(ctx context.Context, req compose.Request) (string, error)
}

type MetadataGenerator interface {
	Generate(ctx context.Context, clip types.ClipRecord) (*types.VideoMetadata, error)
}

// Deps are the stage implementations a Runner drives.
type Deps struct {
	History    HistoryStore
	Token      TokenSource
	Catalog    Catalog
	Downloader Downloader
	Classifier Classifier
	Composer   Composer
	Metadata   MetadataGenerator
	Publisher  publish.Publisher
}

// Runner executes one pipeline run at a time.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

// Run publishes up to run.publish_cap new shorts. Only lock contention,
// history write failures and cancellation are returned as errors; every
// other problem ends or skips work and is reported in the summary.
func (r *Runner) Run(ctx context.Context) (summary types.RunSummary, err error) {
	summary = types.RunSummary{
		RunID:     uuid.NewString()[:8],
		StartedAt: r.now().UTC().Format(time.RFC3339),
		VideoIDs:  []string{},
	}
	logger := r.logger.With().Str("run", summary.RunID).Logger()
	logger.Info().Str("broadcaster", r.cfg.Twitch.BroadcasterID).Int("cap", r.cfg.Run.PublishCap).Msg("run starting")

	if err := r.deps.History.Lock(); err != nil {
		return summary, fmt.Errorf("lock history: %w", err)
	}
	defer func() {
		if uerr := r.deps.History.Unlock(); uerr != nil {
			logger.Warn().Err(uerr).Msg("release lock")
		}
		summary.CompletedAt = r.now().UTC().Format(time.RFC3339)
		ev := logger.Info()
		if err != nil {
			ev = logger.Error().Err(err)
		}
		ev.Int("candidates", summary.Candidates).
			Int("eligible", summary.Eligible).
			Int("attempted", summary.Attempted).
			Int("published", summary.Published).
			Int("failed", summary.Failed).
			Strs("video_ids", summary.VideoIDs).
			Str("stop", summary.StopReason).
			Msg("run finished")
	}()

	h, status, err := r.deps.History.Load()
	if err != nil {
		logger.Error().Err(err).Msg("history unreadable, starting from an empty one")
		h = history.History{}
	}
	published := r.deps.History.PublishedToday(h)
	logger.Info().Stringer("status", status).Int("published_today", len(published)).Msg("history loaded")

	token, err := r.deps.Token.Token(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("no catalog token, nothing to do")
		summary.StopReason = StopNoToken
		return summary, nil
	}

	start, end := catalog.Window(r.now(), r.cfg.Twitch.Lookback)
	clips, err := r.deps.Catalog.FetchClips(ctx, token, catalog.Query{
		BroadcasterID: r.cfg.Twitch.BroadcasterID,
		StartedAt:     start,
		EndedAt:       end,
		First:         r.cfg.Selection.MaxCandidatesPerFetch,
	})
	if err != nil {
		logger.Error().Err(err).Msg("fetch clips failed, continuing with none")
		clips = nil
	}
	summary.Candidates = len(clips)

	eligible, report := selector.SelectWithReport(clips, published, selector.ConstraintsFrom(r.cfg))
	summary.Eligible = len(eligible)
	logger.Info().
		Int("candidates", report.Candidates).
		Int("accepted", report.Accepted).
		Int("duplicate", report.Duplicate).
		Int("language", report.Language).
		Int("duration", report.Duration).
		Msg("selection")
	if len(eligible) == 0 {
		summary.StopReason = StopNoEligible
		return summary, nil
	}

	attempted := make(map[string]bool, len(eligible))
	for _, clip := range eligible {
		if summary.Published >= r.cfg.Run.PublishCap {
			break
		}
		if err := ctx.Err(); err != nil {
			summary.StopReason = StopCancelled
			return summary, err
		}
		if attempted[clip.ID] || published[clip.ID] {
			continue
		}
		attempted[clip.ID] = true
		summary.Attempted++

		clipLog := logger.With().Str("clip", clip.ID).Logger()
		clipLog.Info().Str("title", clip.Title).Int("views", clip.ViewerCount).Float64("duration", clip.DurationSeconds).Msg("processing clip")

		videoID, err := r.process(ctx, token, clip, clipLog)
		if err != nil {
			summary.Failed++
			clipLog.Warn().Err(err).Msg("clip skipped")
			continue
		}

		if _, err := r.deps.History.Record(h, clip.ID, videoID); err != nil {
			summary.StopReason = StopHistoryWrite
			return summary, fmt.Errorf("record %s: %w", clip.ID, err)
		}
		published[clip.ID] = true
		summary.Published++
		summary.VideoIDs = append(summary.VideoIDs, videoID)
		clipLog.Info().Str("video_id", videoID).Int("published", summary.Published).Msg("clip published")
	}

	if summary.Published >= r.cfg.Run.PublishCap {
		summary.StopReason = StopCapReached
	} else {
		summary.StopReason = StopExhausted
	}
	return summary, nil
}

// process runs one clip through download, classify, compose, metadata and publish.
func (r *Runner) process(ctx context.Context, token string, clip types.ClipRecord, logger zerolog.Logger) (string, error) {
	raw := filepath.Join(r.cfg.Paths.WorkDir, "raw", clip.ID+".mp4")
	out := filepath.Join(r.cfg.Paths.WorkDir, "out", clip.ID+".mp4")
	if !r.cfg.Run.KeepOutputs {
		defer cleanup(logger, raw, out)
	}

	src, err := r.deps.Downloader.Download(ctx, clip, raw)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	variant := r.deps.Classifier.Classify(ctx, token, clip)
	logger.Info().Str("variant", string(variant)).Msg("classified")

	composed, err := r.deps.Composer.Compose(ctx, compose.Request{
		Input:              src,
		Output:             out,
		MaxDurationSeconds: r.cfg.Selection.MaxDurationSeconds,
		Clip:               clip,
		Variant:            variant,
	})
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}

	meta, err := r.deps.Metadata.Generate(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}

	videoID, err := r.deps.Publisher.Publish(ctx, clip, composed, meta)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	if path, err := publish.LogUpload(r.cfg.Paths.Logs, clip.ID, videoID, composed, meta); err != nil {
		logger.Warn().Err(err).Msg("could not write upload log")
	} else {
		logger.Debug().Str("log", path).Msg("upload logged")
	}
	return videoID, nil
}

func cleanup(logger zerolog.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", p).Msg("cleanup")
		}
	}
}
