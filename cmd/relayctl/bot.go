package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/langheinrich/Cherax-EE-Chat/internal/bot"
)

func newBotCmd(opts *options) *cobra.Command {
	cfg := bot.DefaultConfig()
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Join a session over the polling API and answer every message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}).
				With().
				Timestamp().
				Logger()

			return bot.New(opts.client(), cfg, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&cfg.SessionID, "session", cfg.SessionID, "session to join")
	cmd.Flags().StringVar(&cfg.BotID, "id", cfg.BotID, "client id the bot uses")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", cfg.Interval, "poll interval")
	cmd.Flags().StringVar(&cfg.Announcement, "announce", cfg.Announcement, "message sent after joining, empty to stay quiet")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	return cmd
}
