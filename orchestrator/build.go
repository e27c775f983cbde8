package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	catalog "twitch-shorts-pipeline/01_catalog"
	download "twitch-shorts-pipeline/03_download"
	classify "twitch-shorts-pipeline/04_classify"
	compose "twitch-shorts-pipeline/05_compose"
	metadata "twitch-shorts-pipeline/06_metadata"
	publish "twitch-shorts-pipeline/07_publish"
	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/history"
	"twitch-shorts-pipeline/logging"
	"twitch-shorts-pipeline/media"
)

// Build wires the production stages from cfg. dryRun forces the dry-run
// publisher regardless of upload.enabled.
func Build(ctx context.Context, cfg *config.Config, dryRun bool) (*Runner, error) {
	creds, err := catalog.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	helix := catalog.New(cfg.Twitch, creds.ClientID, logging.WithComponent("catalog"))

	mx, err := media.New(logging.WithComponent("ffmpeg"))
	if err != nil {
		return nil, fmt.Errorf("media tools: %w", err)
	}

	var pub publish.Publisher
	if dryRun {
		pub = publish.NewDryRun(logging.WithComponent("publish"))
	} else {
		pub, err = publish.FromConfig(ctx, cfg, logging.WithComponent("publish"))
		if err != nil {
			return nil, err
		}
	}

	deps := Deps{
		History:    history.New(cfg.Paths.History, cfg.Run.LockStaleAfter),
		Token:      catalog.NewAuthenticator(cfg.Twitch, creds),
		Catalog:    helix,
		Downloader: download.New(cfg.Download, logging.WithComponent("download")),
		Classifier: classify.New(helix, cfg.Classify.ChattingKeywords, logging.WithComponent("classify")),
		Composer:   compose.New(cfg.Compose, mx, mx, filepath.Join(cfg.Paths.WorkDir, "compose"), logging.WithComponent("compose")),
		Metadata:   metadata.FromConfig(cfg, logging.WithComponent("metadata")),
		Publisher:  pub,
	}
	return New(cfg, deps, logging.WithComponent("orchestrator")), nil
}
