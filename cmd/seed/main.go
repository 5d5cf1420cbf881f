// Command seed fills the configured store with demo data, either from a
// YAML fixture or generated.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"keepto/internal/bootstrap"
	"keepto/internal/config"
	"keepto/internal/observability"
	"keepto/internal/seed"
)

func main() {
	fixturePath := flag.String("fixture", "", "YAML fixture to apply (generated data when empty)")
	numUsers := flag.Int("users", 20, "Number of users to generate")
	numPosts := flag.Int("posts", 60, "Number of posts to generate")
	numMessages := flag.Int("messages", 40, "Number of chat messages to generate")
	imageRatio := flag.Float64("images", 0.3, "Share of generated posts with a picture")
	seedValue := flag.Int64("seed", time.Now().UnixNano(), "Random seed for generated data")
	dump := flag.String("dump", "", "Write the generated fixture to this file instead of applying it")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Env, slog.LevelInfo)
	observability.SetLogger(logger)

	var fixture seed.Fixture
	if *fixturePath != "" {
		fixture, err = seed.LoadFixture(*fixturePath)
		if err != nil {
			logger.Error("failed to load fixture", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		fixture = seed.Generate(seed.GenerateOptions{
			Users:      *numUsers,
			Posts:      *numPosts,
			Messages:   *numMessages,
			ImageRatio: *imageRatio,
			Seed:       *seedValue,
		})
	}

	if *dump != "" {
		data, err := fixture.Marshal()
		if err == nil {
			err = os.WriteFile(*dump, data, 0o644)
		}
		if err != nil {
			logger.Error("failed to write fixture", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("fixture written", slog.String("path", *dump))
		return
	}

	if cfg.StoreBackend == "memory" {
		logger.Warn("seeding the in-memory store; the data is gone when this command exits")
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init runtime", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	res, err := seed.NewSeeder(rt.Services, logger).Apply(ctx, fixture)
	if err != nil {
		logger.Error("seeding failed", slog.String("error", err.Error()))
		_ = rt.Close()
		os.Exit(1)
	}
	logger.Info("seeding done",
		slog.Int("users", res.Users),
		slog.Int("posts", res.Posts),
		slog.Int("messages", res.Messages),
	)
}
