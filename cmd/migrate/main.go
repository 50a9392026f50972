package main

import (
	"errors"
	"flag"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/noah-isme/kopi-pos/internal/config"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/store"
)

func main() {
	steps := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "migrate").Logger()

	m, err := store.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("init migrator")
	}
	defer func() { _, _ = m.Close() }()

	if *steps > 0 {
		err = m.Steps(-*steps)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error().Err(err).Msg("read migration version")
		os.Exit(1)
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
