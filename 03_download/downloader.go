// Package download fetches a clip's video file to local disk.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// minDirectBytes rejects error pages served with a 200.
const minDirectBytes = 1024

var mediaExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".mkv": true}

// Downloader fetches clips either directly or through yt-dlp.
type Downloader struct {
	cfg        config.DownloadConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Downloader.
func New(cfg config.DownloadConfig, logger zerolog.Logger) *Downloader {
	return &Downloader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Download writes the clip's video to dest and returns dest.
func (d *Downloader) Download(ctx context.Context, clip types.ClipRecord, dest string) (string, error) {
	if clip.URL == "" {
		return "", fmt.Errorf("clip %s has no url", clip.ID)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	var err error
	if isMediaURL(clip.URL) {
		d.logger.Debug().Str("clip", clip.ID).Msg("direct download")
		err = d.fetchDirect(ctx, clip.URL, dest)
	} else {
		d.logger.Debug().Str("clip", clip.ID).Str("tool", d.cfg.Tool).Msg("downloading with external tool")
		err = d.fetchWithTool(ctx, clip.URL, dest)
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("download %s: %w", clip.ID, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("download %s: output missing: %w", clip.ID, err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return "", fmt.Errorf("download %s: output is empty", clip.ID)
	}
	d.logger.Info().Str("clip", clip.ID).Int64("bytes", info.Size()).Msg("clip downloaded")
	return dest, nil
}

func isMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func (d *Downloader) fetchDirect(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TwitchShortsPipeline/1.0)")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if n < minDirectBytes {
		os.Remove(tmp)
		return fmt.Errorf("response too small (%d bytes), likely an error page", n)
	}
	return os.Rename(tmp, dest)
}

func (d *Downloader) fetchWithTool(ctx context.Context, rawURL, dest string) error {
	tool := d.cfg.Tool
	if tool == "" {
		tool = "yt-dlp"
	}
	format := d.cfg.Format
	if format == "" {
		format = "best"
	}

	cmd := exec.CommandContext(ctx, tool,
		"-f", format,
		"--no-playlist",
		"--no-part",
		"--force-overwrites",
		"--quiet",
		"--no-warnings",
		"-o", dest,
		rawURL,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return fmt.Errorf("%s failed: %w: %s", tool, err, msg)
	}
	return nil
}
