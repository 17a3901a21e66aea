package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/casualjim/linebroker"
	"github.com/casualjim/linebroker/internal/broker"
	"github.com/casualjim/linebroker/internal/config"
	"github.com/casualjim/linebroker/pkg/natsx"
	"github.com/casualjim/linebroker/pkg/slogx"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	topics     []string
	maxClients int
	logLevel   string
	natsURL    string
}

func newRootCmd(runFn func(context.Context, *config.Config) error) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "linebroker [port]",
		Short:         "Topic based publish/subscribe broker over a line protocol",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return runFn(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv(config.EnvConfig), "YAML configuration file")
	cmd.Flags().StringSliceVar(&f.topics, "topics", nil, "topics to provision, replaces the configured list")
	cmd.Flags().IntVar(&f.maxClients, "max-clients", 0, "maximum concurrent clients, 0 or less disables the cap")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&f.natsURL, "nats-url", "", "relay published messages through this NATS server")
	return cmd
}

// loadConfig layers defaults, the config file, the environment, flags and
// the positional port, in that order.
func loadConfig(cmd *cobra.Command, f flags, args []string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	fs := cmd.Flags()
	if fs.Changed("topics") {
		cfg.Topics = f.topics
	}
	if fs.Changed("max-clients") {
		cfg.MaxClients = f.maxClients
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("nats-url") {
		cfg.NATS.URL = f.natsURL
	}
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("port must be an integer, got %q", args[0])
		}
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level slog.Level) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	setupLogging(level)

	options := cfg.ServerOptions()
	if cfg.NATS.URL != "" {
		nc, err := natsx.NewClient(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()
		options = append(options, linebroker.WithRelay(broker.NATS(nc, cfg.NATS.SubjectPrefix)))
		slog.Info("relaying messages through nats", slog.String("url", cfg.NATS.URL))
	}

	srv, err := linebroker.New(cfg.Topics, options...)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-served; !errors.Is(err, linebroker.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := newRootCmd(run).ExecuteContext(context.Background()); err != nil {
		setupLogging(slog.LevelInfo)
		slog.Error("linebroker failed", slogx.Error(err))
		os.Exit(1)
	}
}
