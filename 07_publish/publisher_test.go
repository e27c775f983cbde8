package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

func sampleMeta() *types.VideoMetadata {
	return &types.VideoMetadata{
		Title:       "Le clutch #shorts",
		Description: "desc",
		Tags:        []string{"twitch", "clip"},
		CategoryID:  "20",
		Visibility:  "unlisted",
		Language:    "fr",
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "short.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really an mp4"), 0644))
	return path
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(zerolog.Nop())
	id, err := d.Publish(context.Background(), types.ClipRecord{ID: "abc"}, writeVideo(t), sampleMeta())
	require.NoError(t, err)
	require.Equal(t, "TEST-abc", id)

	_, err = d.Publish(context.Background(), types.ClipRecord{ID: "abc"}, filepath.Join(t.TempDir(), "missing.mp4"), sampleMeta())
	require.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	p, err := FromConfig(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &DryRun{}, p)

	t.Setenv("YOUTUBE_CLIENT_ID", "")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "")
	t.Setenv("YOUTUBE_REFRESH_TOKEN", "")
	cfg.Upload.Enabled = true
	_, err = FromConfig(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "YOUTUBE_REFRESH_TOKEN")
}

func TestLogUpload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	path, err := LogUpload(dir, "abc", "yt123", "/tmp/short.mp4", sampleMeta())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "upload_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry UploadLog
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, "abc", entry.ClipID)
	require.Equal(t, "yt123", entry.VideoID)
	require.Equal(t, "https://www.youtube.com/shorts/yt123", entry.VideoURL)
	require.Equal(t, []string{"twitch", "clip"}, entry.Tags)
}

func TestYouTubeUploader(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"yt123"}`))
	}))
	defer srv.Close()

	svc, err := youtube.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	u := NewYouTubeUploaderWithService(svc, config.Default().Upload, zerolog.Nop())
	id, err := u.Publish(context.Background(), types.ClipRecord{ID: "abc"}, writeVideo(t), sampleMeta())
	require.NoError(t, err)
	require.Equal(t, "yt123", id)
	require.Contains(t, gotPath, "youtube/v3/videos")
	require.Contains(t, gotBody, "Le clutch #shorts")
	require.Contains(t, gotBody, `"privacyStatus":"unlisted"`)
	require.Contains(t, gotBody, "not really an mp4")
}

func TestYouTubeUploaderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quotaExceeded"}}`))
	}))
	defer srv.Close()

	svc, err := youtube.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	u := NewYouTubeUploaderWithService(svc, config.Default().Upload, zerolog.Nop())
	_, err = u.Publish(context.Background(), types.ClipRecord{ID: "abc"}, writeVideo(t), sampleMeta())
	require.Error(t, err)
}
