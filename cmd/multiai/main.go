package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bowerhall/multiai/internal/alerts"
	"github.com/bowerhall/multiai/internal/auth"
	"github.com/bowerhall/multiai/internal/bot"
	"github.com/bowerhall/multiai/internal/chat"
	"github.com/bowerhall/multiai/internal/config"
	"github.com/bowerhall/multiai/internal/conversation"
	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
	"github.com/bowerhall/multiai/internal/mediacache"
	"github.com/bowerhall/multiai/internal/mediacache/sqlite"
	"github.com/bowerhall/multiai/internal/operational"
	"github.com/bowerhall/multiai/internal/oracle"
	"github.com/bowerhall/multiai/internal/persona"
	"github.com/bowerhall/multiai/internal/session"
	"github.com/bowerhall/multiai/internal/storage"
	"github.com/bowerhall/multiai/internal/sweeper"
)

const (
	alertCooldown   = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func init() {
	godotenv.Load()
}

func mediaOpener(cfg *config.Config) mediacache.Opener {
	switch cfg.Media.Backend {
	case "memory":
		return nil
	case "minio":
		return storage.MediaOpener(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
	default:
		return sqlite.Opener(cfg.Media.Path)
	}
}

// buildOracle routes each persona with a configured provider to it. The
// rest get canned replies.
func buildOracle(cfg *config.Config, personas *persona.Catalog) *oracle.Router {
	router := oracle.NewRouter(oracle.NewHeuristic(oracle.DefaultDelay))

	for _, oc := range cfg.Oracles {
		model := oc.Model
		if model == "" {
			if p, ok := personas.Lookup(oc.PersonaID); ok {
				model = p.Model
			}
		}

		o, err := oracle.New(oracle.Config{
			Provider: oc.Provider,
			APIKey:   oc.APIKey,
			Model:    model,
			BaseURL:  oc.BaseURL,
		})
		if err != nil {
			logger.Warn("oracle disabled", "persona", oc.PersonaID, "provider", oc.Provider, "error", err)
			continue
		}

		router.Route(oc.PersonaID, o)
		logger.Debug("oracle configured", "persona", oc.PersonaID, "provider", oc.Provider, "model", model)
	}

	return router
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	personas, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		logger.Fatal("failed to load personas", "error", err)
	}

	ops, err := operational.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer ops.Close()

	users, err := auth.NewStore(ctx, ops.DB())
	if err != nil {
		logger.Fatal("failed to create user store", "error", err)
	}

	snapshots, err := conversation.NewStore(ops.DB())
	if err != nil {
		logger.Fatal("failed to create conversation store", "error", err)
	}

	media := mediacache.New(mediacache.Options{
		Opener:      mediaOpener(cfg),
		InitTimeout: cfg.Media.InitTimeout,
	})
	mode := media.Initialize(ctx)

	pipeline := ingest.New(media, ingest.Config{
		Limits: ingest.Limits{
			MaxTotalBytes: cfg.Upload.MaxTotalBytes,
			MaxFileBytes:  cfg.Upload.MaxFileBytes,
			MaxFileCount:  cfg.Upload.MaxFiles,
		},
		ChunkSize: cfg.Upload.ChunkBytes,
		Batching:  cfg.Upload.Batching,
	})

	oracles := buildOracle(cfg, personas)

	registry := session.NewRegistry(users, func(ctx context.Context, user *auth.User, notify *alerts.Alerter) (*chat.Store, error) {
		return chat.Open(ctx, chat.Options{
			UserID:    user.ID,
			Personas:  personas,
			Oracle:    oracles,
			Pipeline:  pipeline,
			Media:     media,
			Snapshots: snapshots,
			Alerts:    notify,
		})
	})

	sweep, err := sweeper.New(media, cfg.Media.SweepSchedule, cfg.Media.MaxAge)
	if err != nil {
		logger.Fatal("failed to create media sweeper", "error", err)
	}
	go sweep.Run(ctx)

	frontend, err := bot.New(bot.Config{
		Provider: cfg.Bot.Provider,
		Token:    cfg.Bot.Token,
	}, bot.NewRouter(registry, bot.RouterConfig{
		RateLimit:     cfg.Bot.RateLimit,
		Burst:         cfg.Bot.Burst,
		AlertCooldown: alertCooldown,
	}))
	if err != nil {
		logger.Fatal("failed to create bot", "error", err)
	}

	go func() {
		if err := frontend.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bot stopped", "provider", cfg.Bot.Provider, "error", err)
		}
		cancel()
	}()

	logger.Info("multiai started",
		"bot", cfg.Bot.Provider,
		"media", cfg.Media.Backend,
		"mode", mode,
		"oracles", len(cfg.Oracles),
		"personas", len(personas.All()),
		"upload_cap", cfg.Upload.MaxTotalBytes,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down", "sessions", registry.Count())
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := media.Close(shutdownCtx); err != nil {
		logger.Warn("media cache close", "error", err)
	}
}
