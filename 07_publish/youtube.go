package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// YouTubeUploader handles YouTube video upload via Data API v3.
type YouTubeUploader struct {
	cfg    config.UploadConfig
	svc    *youtube.Service
	logger zerolog.Logger
}

// NewYouTubeUploader authenticates with the refresh token from the environment.
func NewYouTubeUploader(ctx context.Context, cfg config.UploadConfig, logger zerolog.Logger) (*YouTubeUploader, error) {
	ts, err := tokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube auth: %w", err)
	}
	svc, err := youtube.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return NewYouTubeUploaderWithService(svc, cfg, logger), nil
}

// NewYouTubeUploaderWithService uses an already configured service.
func NewYouTubeUploaderWithService(svc *youtube.Service, cfg config.UploadConfig, logger zerolog.Logger) *YouTubeUploader {
	return &YouTubeUploader{cfg: cfg, svc: svc, logger: logger}
}

func tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return conf.TokenSource(ctx, token), nil
}

// Publish uploads videoFile with snippet and status built from meta.
func (u *YouTubeUploader) Publish(ctx context.Context, clip types.ClipRecord, videoFile string, meta *types.VideoMetadata) (string, error) {
	lang := meta.Language
	if lang == "" {
		lang = u.cfg.DefaultLanguage
	}
	visibility := meta.Visibility
	if visibility == "" {
		visibility = u.cfg.Visibility
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      lang,
			DefaultAudioLanguage: lang,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           visibility,
			SelfDeclaredMadeForKids: u.cfg.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		u.logger.Info().
			Str("clip", clip.ID).
			Str("title", meta.Title).
			Float64("size_mb", float64(fi.Size())/1024/1024).
			Msg("uploading")
	}

	call := u.svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(u.cfg.NotifySubscribers).
		Media(f).
		Context(ctx)

	uploaded, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if uploaded.Id == "" {
		return "", fmt.Errorf("youtube upload: no video id returned")
	}

	u.logger.Info().Str("clip", clip.ID).Str("video_id", uploaded.Id).Str("url", VideoURL(uploaded.Id)).Msg("uploaded")
	return uploaded.Id, nil
}
