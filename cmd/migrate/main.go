// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up|down|version.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"access-core/internal/config"
	"access-core/internal/db/migrate"
	"access-core/internal/logging"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up, down, or version to print the current schema version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	if *direction == "version" {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("migrate version")
		}
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("schema version")
		return
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction, log); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	log.WithField("direction", *direction).Info("migrations applied")
}
