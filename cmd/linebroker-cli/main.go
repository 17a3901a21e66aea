package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/linebroker/internal/console"
	"github.com/casualjim/linebroker/pkg/slogx"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelWarn}),
	))
}

func newRootCmd() *cobra.Command {
	var (
		host        string
		dialTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:           "linebroker-cli",
		Short:         "Interactive client for linebroker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := console.New(cmd.InOrStdin(), cmd.OutOrStdout(),
				console.WithHost(host),
				console.WithDialTimeout(dialTimeout),
			)
			if err != nil {
				return err
			}
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "broker host that CONNECT dials")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "timeout for CONNECT")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("linebroker-cli failed", slogx.Error(err))
		stop()
		os.Exit(1)
	}
}
