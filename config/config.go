package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Twitch    TwitchConfig    `yaml:"twitch"`
	Selection SelectionConfig `yaml:"selection"`
	Run       RunConfig       `yaml:"run"`
	Download  DownloadConfig  `yaml:"download"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Compose   ComposeConfig   `yaml:"compose"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Upload    UploadConfig    `yaml:"upload"`
	Paths     PathsConfig     `yaml:"paths"`
}

type TwitchConfig struct {
	BroadcasterID string        `yaml:"broadcaster_id"`
	Language      string        `yaml:"language"`
	Lookback      time.Duration `yaml:"lookback"`
	AuthURL       string        `yaml:"auth_url"`
	APIURL        string        `yaml:"api_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SelectionConfig struct {
	MinDurationSeconds    float64 `yaml:"min_duration_seconds"`
	MaxDurationSeconds    float64 `yaml:"max_duration_seconds"`
	MaxCandidatesPerFetch int     `yaml:"max_candidates_per_fetch"`
}

type RunConfig struct {
	PublishCap     int           `yaml:"publish_cap"`
	KeepOutputs    bool          `yaml:"keep_outputs"`
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
}

type DownloadConfig struct {
	Tool    string        `yaml:"tool"`
	Format  string        `yaml:"format"`
	Timeout time.Duration `yaml:"timeout"`
}

type ClassifyConfig struct {
	ChattingKeywords []string `yaml:"chatting_keywords"`
}

type Rect struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

type ComposeConfig struct {
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	FPS              int     `yaml:"fps"`
	HardCeilingSec   float64 `yaml:"hard_ceiling_seconds"`
	VideoCodec       string  `yaml:"video_codec"`
	AudioCodec       string  `yaml:"audio_codec"`
	Preset           string  `yaml:"preset"`
	CRF              int     `yaml:"crf"`
	AudioSampleRate  int     `yaml:"audio_sample_rate"`
	AssetsDir        string  `yaml:"assets_dir"`
	BackgroundImage  string  `yaml:"background_image"`
	BackgroundColor  string  `yaml:"background_color"`
	EndCard          string  `yaml:"end_card"`
	FontsDir         string  `yaml:"fonts_dir"`
	TitleFont        string  `yaml:"title_font"`
	HandleFont       string  `yaml:"handle_font"`
	TitleFontSize    int     `yaml:"title_font_size"`
	HandleFontSize   int     `yaml:"handle_font_size"`
	TitleStroke      int     `yaml:"title_stroke"`
	HandleStroke     int     `yaml:"handle_stroke"`
	TextMargin       int     `yaml:"text_margin"`
	TitleMaxLineChar int     `yaml:"title_max_line_chars"`
	Webcam           Rect    `yaml:"webcam"`
	TopRatio         float64 `yaml:"top_ratio"`
	BottomRatio      float64 `yaml:"bottom_ratio"`
}

type MetadataConfig struct {
	UseLLM        bool     `yaml:"use_llm"`
	Model         string   `yaml:"model"`
	BaseURL       string   `yaml:"base_url"`
	TitleMaxChars int      `yaml:"title_max_chars"`
	Tags          []string `yaml:"tags"`
	Hashtags      []string `yaml:"hashtags"`
	CategoryID    string   `yaml:"youtube_category_id"`
}

type UploadConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Visibility        string `yaml:"visibility"`
	NotifySubscribers bool   `yaml:"notify_subscribers"`
	MadeForKids       bool   `yaml:"made_for_kids"`
	DefaultLanguage   string `yaml:"default_language"`
}

type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
	WorkDir string `yaml:"work_dir"`
	History string `yaml:"history"`
	Logs    string `yaml:"logs"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Twitch: TwitchConfig{
			BroadcasterID: "737048563",
			Language:      "fr",
			Lookback:      24 * time.Hour,
			AuthURL:       "https://id.twitch.tv/oauth2/token",
			APIURL:        "https://api.twitch.tv/helix",
			Timeout:       15 * time.Second,
		},
		Selection: SelectionConfig{
			MinDurationSeconds:    15,
			MaxDurationSeconds:    180,
			MaxCandidatesPerFetch: 50,
		},
		Run: RunConfig{
			PublishCap:     3,
			LockStaleAfter: 6 * time.Hour,
		},
		Download: DownloadConfig{
			Tool:    "yt-dlp",
			Format:  "best[ext=mp4]/best",
			Timeout: 5 * time.Minute,
		},
		Classify: ClassifyConfig{
			ChattingKeywords: []string{"just chatting"},
		},
		Compose: ComposeConfig{
			Width:            1080,
			Height:           1920,
			FPS:              30,
			HardCeilingSec:   180,
			VideoCodec:       "libx264",
			AudioCodec:       "aac",
			Preset:           "fast",
			CRF:              22,
			AudioSampleRate:  44100,
			AssetsDir:        "assets",
			BackgroundImage:  "fond_short.png",
			BackgroundColor:  "black",
			EndCard:          "fin_de_short.mp4",
			FontsDir:         "assets/fonts",
			TitleFont:        "Roboto-Bold.ttf",
			HandleFont:       "Roboto-Regular.ttf",
			TitleFontSize:    70,
			HandleFontSize:   40,
			TitleStroke:      2,
			HandleStroke:     1,
			TextMargin:       80,
			TitleMaxLineChar: 26,
			Webcam:           Rect{X1: 5, Y1: 8, X2: 542, Y2: 282},
			TopRatio:         0.33,
			BottomRatio:      0.67,
		},
		Metadata: MetadataConfig{
			Model:         "llama-3.3-70b-versatile",
			BaseURL:       "https://api.groq.com/openai/v1",
			TitleMaxChars: 100,
			Tags:          []string{"twitch", "clip", "shorts"},
			Hashtags:      []string{"#shorts", "#twitch"},
			CategoryID:    "20",
		},
		Upload: UploadConfig{
			Visibility:      "public",
			DefaultLanguage: "fr",
		},
		Paths: PathsConfig{
			DataDir: "data",
			WorkDir: "data/work",
			History: "data/published_shorts_history.json",
			Logs:    "data/logs",
		},
	}
}

// Load reads config.yaml on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func findConfigFile() string {
	for _, path := range []string{"./config.yaml", "./config.yml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// applyEnv lets the scheduler override the few values that change per deployment.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SHORTS_BROADCASTER_ID")); v != "" {
		c.Twitch.BroadcasterID = v
	}
	if v := strings.TrimSpace(os.Getenv("SHORTS_LANGUAGE")); v != "" {
		c.Twitch.Language = v
	}
	c.Upload.Enabled = envBool("SHORTS_UPLOAD_ENABLED", c.Upload.Enabled)
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	s := c.Selection
	if s.MinDurationSeconds < 0 || s.MaxDurationSeconds <= 0 {
		return fmt.Errorf("selection durations must be positive")
	}
	if s.MinDurationSeconds > s.MaxDurationSeconds {
		return fmt.Errorf("selection.min_duration_seconds (%.0f) > max_duration_seconds (%.0f)",
			s.MinDurationSeconds, s.MaxDurationSeconds)
	}
	if s.MaxCandidatesPerFetch <= 0 {
		return fmt.Errorf("selection.max_candidates_per_fetch must be > 0")
	}
	if strings.TrimSpace(c.Twitch.Language) == "" {
		return fmt.Errorf("twitch.language is required")
	}
	if c.Twitch.Lookback <= 0 {
		return fmt.Errorf("twitch.lookback must be > 0")
	}
	if c.Run.PublishCap <= 0 {
		return fmt.Errorf("run.publish_cap must be > 0")
	}

	cc := c.Compose
	if cc.Width <= 0 || cc.Height <= 0 || cc.FPS <= 0 {
		return fmt.Errorf("compose canvas and fps must be > 0")
	}
	if cc.HardCeilingSec <= 0 {
		return fmt.Errorf("compose.hard_ceiling_seconds must be > 0")
	}
	if cc.Webcam.X2 <= cc.Webcam.X1 || cc.Webcam.Y2 <= cc.Webcam.Y1 {
		return fmt.Errorf("compose.webcam rectangle is empty")
	}
	if cc.TopRatio <= 0 || cc.BottomRatio <= 0 || cc.TopRatio+cc.BottomRatio > 1.0001 {
		return fmt.Errorf("compose top/bottom ratios must be positive and sum to at most 1")
	}
	return nil
}

// Asset resolves a compose asset name against the assets directory.
func (cc ComposeConfig) Asset(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cc.AssetsDir, name)
}

// Font resolves a font file name against the fonts directory.
func (cc ComposeConfig) Font(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cc.FontsDir, name)
}
