package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/seed"
	"github.com/smukkama/vrisa/pkg/config"
)

func main() {
	file := pflag.StringP("file", "f", "fixtures/cali.yaml", "YAML fixture to load")
	migrate := pflag.Bool("migrate", true, "apply pending migrations before loading")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.NewLogger(os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("service", "seed")

	if err := run(context.Background(), cfg, *file, *migrate, logger); err != nil {
		logger.Error("seed failed", "file", *file, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path string, migrate bool, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fixture, err := seed.Parse(f)
	if err != nil {
		return err
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := db.RunMigrations(ctx, cfg.HTTP.MigrationsDir, logger); err != nil {
			return err
		}
	}

	logger.Info("loading fixture", "file", path)
	_, err = seed.NewLoader(db, logger).Load(ctx, fixture)
	return err
}
