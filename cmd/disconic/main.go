package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/backends/discordvoice"
	"github.com/disconic/disconic/internal/bot"
	"github.com/disconic/disconic/internal/cache"
	"github.com/disconic/disconic/internal/catalog"
	"github.com/disconic/disconic/internal/config"
	"github.com/disconic/disconic/internal/control"
	"github.com/disconic/disconic/internal/coordinator"
	"github.com/disconic/disconic/internal/decoder"
	"github.com/disconic/disconic/internal/history"
	"github.com/disconic/disconic/internal/logging"
	"github.com/disconic/disconic/internal/metrics"
	"github.com/disconic/disconic/internal/player"
)

var (
	configPath  = flag.String("config", getDefaultConfigPath(), "Path to configuration file")
	envFile     = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment")
	logLevel    = flag.String("log-level", "", "Override the configured log level")
	guildID     = flag.String("guild", "", "Register slash commands in this guild only")
	controlAddr = flag.String("control-addr", "", "Control server listen address (overrides config)")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus listen address (overrides config)")
	historyDB   = flag.String("history-db", "", "Play history database path (overrides config)")
	noWatch     = flag.Bool("no-watch", false, "Do not reload the config file when it changes")
	initConfig  = flag.Bool("init-config", false, "Write the default configuration to --config and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.SaveConfig(*configPath, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, atom, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger, atom); err != nil {
		logger.Error("Exiting", zap.Error(err))
		os.Exit(1)
	}
}

// applyFlags lets command line flags win over the file and the environment
func applyFlags(cfg *config.Config) {
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *guildID != "" {
		cfg.Discord.GuildID = *guildID
	}
	if flag.CommandLine.Changed("control-addr") {
		cfg.Control.Addr = *controlAddr
	}
	if flag.CommandLine.Changed("metrics-addr") {
		cfg.Metrics.Addr = *metricsAddr
	}
	if flag.CommandLine.Changed("history-db") {
		cfg.History.Path = *historyDB
	}
}

func run(cfg *config.Config, logger *zap.Logger, atom zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subsonic, err := catalog.NewClient(cfg.Subsonic.URL, cfg.Subsonic.User, cfg.Subsonic.Password, cfg.Subsonic.Timeout, logger)
	if err != nil {
		return err
	}
	if err := subsonic.Ping(ctx); err != nil {
		return errors.Wrap(err, "subsonic server is not usable")
	}

	var opener backends.StreamOpener = subsonic
	if cfg.Cache.Enabled {
		dc, err := cache.NewDiskCache(cfg.Cache.Directory, int64(cfg.Cache.MaxSizeGB)<<30, logger)
		if err != nil {
			return err
		}
		logger.Info("Track cache ready",
			zap.String("dir", cfg.Cache.Directory),
			zap.Int("tracks", dc.Len()),
			zap.Int64("bytes", dc.Size()))
		opener = cache.NewOpener(dc, subsonic)
	}

	discord, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return errors.Wrap(err, "failed to create discord session")
	}

	transport := discordvoice.New(discord, discordvoice.Options{
		Opener:      opener,
		Encode:      discordvoice.FFmpeg(decoder.NewOpusEncoder(cfg.Voice.FFmpegPath, cfg.Voice.Bitrate)),
		IdleTimeout: cfg.Voice.IdleTimeout,
		OpenTimeout: cfg.Subsonic.Timeout,
		Logger:      logger,
	})
	defer transport.Close()

	registry := player.NewRegistry(transport, logger)
	defer registry.Shutdown()

	g, ctx := errgroup.WithContext(ctx)

	var opts []coordinator.Option
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		rec := history.NewRecorder(store, logger, 64)
		registry.Subscribe(rec.Notify)
		g.Go(func() error { return rec.Run(ctx) })
		opts = append(opts, coordinator.WithHistory(store))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats, err := metrics.New(promReg, registry)
	if err != nil {
		return err
	}
	registry.Subscribe(stats.Notify)
	opts = append(opts, coordinator.WithObserver(stats))

	coord := coordinator.New(registry, subsonic, logger, opts...)

	b := bot.New(discord, coord, bot.Options{
		GuildID:    cfg.Discord.GuildID,
		Prefix:     cfg.Discord.Prefix,
		OnShutdown: registry.Shutdown,
		Logger:     logger,
	})
	g.Go(func() error { return b.Run(ctx) })

	if cfg.Control.Addr != "" {
		srv := control.NewServer(cfg.Control.Addr, coord, logger)
		g.Go(func() error { return srv.Serve(ctx) })
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Addr, promReg, logger) })
	}
	if _, err := os.Stat(*configPath); err == nil && !*noWatch {
		g.Go(func() error {
			return config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				level := next.Log.Level
				if *logLevel != "" {
					level = *logLevel
				}
				if err := logging.SetLevel(atom, level); err != nil {
					logger.Warn("Ignoring log level from reloaded config", zap.Error(err))
					return
				}
				logger.Info("Config reloaded", zap.String("log_level", level))
			})
		})
	}

	logger.Info("disconic started",
		zap.String("subsonic", cfg.Subsonic.URL),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("control", cfg.Control.Addr))

	err = g.Wait()
	logger.Info("Shutting down", zap.Int("sessions", registry.Len()))
	return err
}

func getDefaultConfigPath() string {
	// Check common locations
	locations := []string{
		"./disconic.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "disconic", "config.yaml"),
		"/etc/disconic/config.yaml",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Default to first location if none exist
	return locations[0]
}
