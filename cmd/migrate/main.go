// Command migrate applies the durable-storage schema.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/db"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading configuration failed")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if cfg.Database.URL == "" {
		log.Fatal().Msg("No database URL configured (MYCELIUM_DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Migration complete")
}
