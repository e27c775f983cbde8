// Package publish uploads composed shorts.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// Publisher uploads one short and returns the published video id.
type Publisher interface {
	Publish(ctx context.Context, clip types.ClipRecord, videoFile string, meta *types.VideoMetadata) (string, error)
}

// FromConfig returns the YouTube uploader when upload.enabled is set and a
// dry-run publisher otherwise.
func FromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Publisher, error) {
	if !cfg.Upload.Enabled {
		logger.Warn().Msg("upload disabled, shorts are recorded with TEST- ids")
		return NewDryRun(logger), nil
	}
	return NewYouTubeUploader(ctx, cfg.Upload, logger)
}

// DryRun pretends to publish. Ids are stable per clip so history stays meaningful.
type DryRun struct {
	logger zerolog.Logger
}

func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger}
}

func (d *DryRun) Publish(_ context.Context, clip types.ClipRecord, videoFile string, meta *types.VideoMetadata) (string, error) {
	if _, err := os.Stat(videoFile); err != nil {
		return "", fmt.Errorf("dry run: %w", err)
	}
	id := "TEST-" + clip.ID
	d.logger.Info().Str("clip", clip.ID).Str("video_id", id).Str("title", meta.Title).Msg("upload skipped (dry run)")
	return id, nil
}

// VideoURL is the public watch URL of a published short.
func VideoURL(videoID string) string {
	return "https://www.youtube.com/shorts/" + videoID
}

// UploadLog is written next to the other run logs after every publish.
type UploadLog struct {
	ClipID     string   `json:"twitch_clip_id"`
	VideoID    string   `json:"video_id"`
	VideoURL   string   `json:"video_url"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	VideoFile  string   `json:"video_file"`
	UploadedAt string   `json:"uploaded_at"`
}

// LogUpload saves the upload result to the logs directory and returns the file path.
func LogUpload(logsDir, clipID, videoID, videoFile string, meta *types.VideoMetadata) (string, error) {
	now := time.Now().UTC()
	entry := UploadLog{
		ClipID:     clipID,
		VideoID:    videoID,
		VideoURL:   VideoURL(videoID),
		Title:      meta.Title,
		Tags:       meta.Tags,
		VideoFile:  videoFile,
		UploadedAt: now.Format(time.RFC3339),
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	logFile := filepath.Join(logsDir, fmt.Sprintf("upload_%s_%s.json", now.Format("20060102_150405"), clipID))
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(logFile, data, 0644); err != nil {
		return "", err
	}
	return logFile, nil
}
