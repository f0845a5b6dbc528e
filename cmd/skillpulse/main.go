package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skillpulse/skillpulse/internal/api"
	"github.com/skillpulse/skillpulse/internal/catalog"
	"github.com/skillpulse/skillpulse/internal/config"
	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/grading"
	"github.com/skillpulse/skillpulse/internal/improvement"
	"github.com/skillpulse/skillpulse/internal/registry"
	"github.com/skillpulse/skillpulse/internal/resolver"
	"github.com/skillpulse/skillpulse/internal/security"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("skillpulse", flag.ExitOnError)
	configPath := fs.String("config", "skillpulse.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("SkillPulse v%s (built %s)\n", version, buildTime)
		fmt.Println("Continuous improvement pipeline for skill prompts")
		return 0
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("starting SkillPulse", "version", version, "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// serve wires all components and runs them until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := registry.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := events.NewHub(logger)

	var mqttBridge *events.MQTTBridge
	if cfg.Events.MQTT.Enabled {
		mqttBridge, err = events.NewMQTTBridge(cfg.Events.MQTT, hub, logger)
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		defer mqttBridge.Close()
	}

	providers, seed, err := loadCatalog(cfg, logger)
	if err != nil {
		return err
	}
	seedRegistry(ctx, store, seed, logger)
	ingestor := grading.NewIngestor(store, providers, hub, logger)

	var gen improvement.Generator
	if cfg.Generator.APIKey != "" {
		ag, err := improvement.NewAnthropicGenerator(improvement.AnthropicConfig{
			APIKey:    cfg.Generator.APIKey,
			Model:     cfg.Generator.Model,
			BaseURL:   cfg.Generator.BaseURL,
			MaxTokens: cfg.Generator.MaxTokens,
		}, logger)
		if err != nil {
			return fmt.Errorf("generator: %w", err)
		}
		gen = ag
	} else {
		logger.Warn("no generator API key configured, proposal generation disabled")
	}

	svc := improvement.NewService(store, gen, hub, logger)
	detector := improvement.NewDetector(store, hub, logger, cfg.Detector.SampleFeedback)

	var jwtSecret []byte
	if cfg.Auth.JWTSecret != "" {
		jwtSecret = []byte(cfg.Auth.JWTSecret)
	}
	server := api.NewServer(cfg.Server.Port, api.Deps{
		Store:    store,
		Ingestor: ingestor,
		Service:  svc,
		Detector: detector,
		Resolver: resolver.New(store, logger),
		Auth:     security.NewAuthenticator(cfg.Auth.Operators),
		Hub:      hub,
	}, jwtSecret, time.Duration(cfg.Auth.TokenExpiryHours)*time.Hour, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	if cfg.Detector.Enabled {
		g.Go(func() error {
			return detector.Run(ctx, cfg.Detector.Schedule)
		})
	}
	return g.Wait()
}

// loadCatalog builds the content provider chain, library skills first,
// and collects all known content for startup seeding.
func loadCatalog(cfg *config.Config, logger *slog.Logger) ([]grading.ContentProvider, []registry.Content, error) {
	static, err := catalog.LoadStatic(cfg.Catalog.StaticFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load static catalog: %w", err)
	}
	library, err := catalog.LoadLibrary(cfg.Catalog.LibraryDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load skill library: %w", err)
	}
	logger.Info("catalog loaded", "static", static.Count(), "library", library.Count())

	seed := append(library.All(), static.All()...)
	return []grading.ContentProvider{library, static}, seed, nil
}

// seedRegistry registers all catalog skills upfront so listings and scoring
// work before the first grade arrives. Registration is idempotent.
func seedRegistry(ctx context.Context, store *registry.Store, seed []registry.Content, logger *slog.Logger) {
	created := 0
	for _, c := range seed {
		ok, err := store.Register(ctx, c)
		if err != nil {
			logger.Warn("failed to seed skill", "skill", c.ID, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		logger.Info("seeded catalog skills", "created", created)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
