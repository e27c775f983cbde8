package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	catalog "twitch-shorts-pipeline/01_catalog"
	selector "twitch-shorts-pipeline/02_select"
	compose "twitch-shorts-pipeline/05_compose"
	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/history"
	"twitch-shorts-pipeline/logging"
	"twitch-shorts-pipeline/media"
	"twitch-shorts-pipeline/orchestrator"
	"twitch-shorts-pipeline/types"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

func main() {
	// Load .env (local dev only, the scheduler injects real secrets)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("shorts failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "shorts",
	Short:         "Turn a streamer's best Twitch clips into YouTube Shorts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	runCmd.Flags().Bool("dry-run", false, "compose everything but skip the YouTube upload")

	composeCmd.Flags().StringP("output", "o", "", "output file (default: <input>_short.mp4)")
	composeCmd.Flags().String("title", "", "title drawn at the top of the short")
	composeCmd.Flags().String("streamer", "", "streamer name drawn as @handle")
	composeCmd.Flags().String("variant", string(types.VariantGameplay), "layout: gameplay or chatting")
	composeCmd.Flags().Float64("max-duration", 0, "truncate the clip (default: selection.max_duration_seconds)")

	rootCmd.AddCommand(runCmd, selectCmd, composeCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish today's shorts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.WorkDir, cfg.Paths.Logs} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", dir, err)
			}
		}

		logFile, err := os.OpenFile(filepath.Join(cfg.Paths.Logs, "pipeline.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		defer logFile.Close()
		log.Logger = logging.NewLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, logFile)

		runner, err := orchestrator.Build(cmd.Context(), cfg, dryRun)
		if err != nil {
			return fmt.Errorf("pipeline setup: %w", err)
		}

		summary, err := runner.Run(cmd.Context())
		saveJSON(filepath.Join(cfg.Paths.Logs, fmt.Sprintf("run_%s.json", summary.RunID)), summary)
		return err
	},
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Print the ranked clips the next run would try, without side effects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		creds, err := catalog.CredentialsFromEnv()
		if err != nil {
			return err
		}
		token, err := catalog.NewAuthenticator(cfg.Twitch, creds).Token(ctx)
		if err != nil {
			return err
		}

		store := history.New(cfg.Paths.History, cfg.Run.LockStaleAfter)
		h, status, err := store.Load()
		if err != nil {
			return err
		}
		log.Debug().Stringer("history", status).Msg("history loaded")

		client := catalog.New(cfg.Twitch, creds.ClientID, logging.WithComponent("catalog"))
		start, end := catalog.Window(time.Now(), cfg.Twitch.Lookback)
		clips, err := client.FetchClips(ctx, token, catalog.Query{
			BroadcasterID: cfg.Twitch.BroadcasterID,
			StartedAt:     start,
			EndedAt:       end,
			First:         cfg.Selection.MaxCandidatesPerFetch,
		})
		if err != nil {
			return err
		}

		eligible, report := selector.SelectWithReport(clips, store.PublishedToday(h), selector.ConstraintsFrom(cfg))
		log.Info().
			Int("candidates", report.Candidates).
			Int("accepted", report.Accepted).
			Int("duplicate", report.Duplicate).
			Int("language", report.Language).
			Int("duration", report.Duration).
			Msg("selection")

		out := cmd.OutOrStdout()
		for i, c := range eligible {
			marker := " "
			if i < cfg.Run.PublishCap {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %2d. %-40s %6d views %5.1fs  %s\n", marker, i+1, c.ID, c.ViewerCount, c.DurationSeconds, c.Title)
		}
		return nil
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose <input>",
	Short: "Compose a single local clip into a short",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		output, _ := cmd.Flags().GetString("output")
		title, _ := cmd.Flags().GetString("title")
		streamer, _ := cmd.Flags().GetString("streamer")
		variantName, _ := cmd.Flags().GetString("variant")
		maxDur, _ := cmd.Flags().GetFloat64("max-duration")

		variant, ok := types.ParseVariant(strings.ToLower(variantName))
		if !ok {
			return fmt.Errorf("unknown variant %q (gameplay or chatting)", variantName)
		}
		if output == "" {
			output = strings.TrimSuffix(input, filepath.Ext(input)) + "_short.mp4"
		}
		if maxDur <= 0 {
			maxDur = cfg.Selection.MaxDurationSeconds
		}

		mx, err := media.New(logging.WithComponent("ffmpeg"))
		if err != nil {
			return err
		}
		engine := compose.New(cfg.Compose, mx, mx, filepath.Join(cfg.Paths.WorkDir, "compose"), logging.WithComponent("compose"))

		clip := types.ClipRecord{
			ID:              strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)),
			Title:           title,
			BroadcasterName: strings.TrimPrefix(streamer, "@"),
		}
		out, err := engine.Compose(cmd.Context(), compose.Request{
			Input:              input,
			Output:             output,
			MaxDurationSeconds: maxDur,
			Clip:               clip,
			Variant:            variant,
		})
		if err != nil {
			return err
		}
		log.Info().Str("output", out).Str("variant", string(variant)).Msg("short ready")
		return nil
	},
}

func saveJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not marshal JSON")
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not save JSON")
	}
}
