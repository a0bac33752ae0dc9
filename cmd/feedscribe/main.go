package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/feedscribe/feedscribe"
	"github.com/feedscribe/feedscribe/internal/config"
	"github.com/feedscribe/feedscribe/internal/output"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedscribe",
		Short: "Feedscribe feed processing engine",
		Long: `Feedscribe fetches subscribed feeds on a schedule, deduplicates and
enriches new entries through a local language model, tracks per-feed health,
and emails digests of processed articles.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			initLogging(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $FEEDSCRIBE_CONFIG)")

	rootCmd.AddCommand(
		daemonCmd(),
		processCmd(),
		digestCmd(),
		addCmd(),
		feedsCmd(),
		articlesCmd(),
		reprocessCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func processCmd() *cobra.Command {
	var feedID int64

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one processing cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)

			ctx := cmd.Context()
			if feedID > 0 {
				return engine.ProcessFeedNow(ctx, feedID)
			}
			return engine.RunCycle(ctx)
		},
	}
	cmd.Flags().Int64Var(&feedID, "feed", 0, "process only this feed id")
	return cmd
}

func digestCmd() *cobra.Command {
	var frequency string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Assemble and send digest emails now",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)
			return engine.SendDigest(cmd.Context(), frequency)
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "digest frequency: daily or weekly")
	return cmd
}

func addCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "add URL",
		Short: "Register a feed for a user and process it immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)

			feedID, err := engine.AddFeed(userID, args[0])
			if err != nil {
				return err
			}
			// The one-shot job won't fire without the scheduler loop; run the
			// first cycle directly.
			if err := engine.ProcessFeedNow(cmd.Context(), feedID); err != nil {
				log.Warn().Err(err).Msg("initial processing failed, retry will run in the daemon")
			}
			fmt.Printf("added feed %d\n", feedID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "owning user id")
	return cmd
}

func feedsCmd() *cobra.Command {
	var userID int64
	var format string

	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List a user's feeds with their health metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)

			feeds, err := engine.UserFeeds(userID)
			if err != nil {
				return err
			}
			return output.NewFormatter(output.Format(format)).OutputFeeds(feeds)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&format, "format", "human", "output format: human, text, or json")
	return cmd
}

func articlesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "articles FEED_ID",
		Short: "List a feed's stored articles, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed id %q", args[0])
			}
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)

			articles, err := engine.FeedArticles(feedID)
			if err != nil {
				return err
			}
			return output.NewFormatter(output.Format(format)).OutputArticles(articles)
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "output format: human, text, or json")
	return cmd
}

func reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess FEED_ID",
		Short: "Reset a feed's retry budget and process it now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed id %q", args[0])
			}
			engine, err := feedscribe.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(true)

			if err := engine.ReprocessFeed(feedID); err != nil {
				return err
			}
			return engine.ProcessFeedNow(cmd.Context(), feedID)
		},
	}
}
