package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/logger"
)

func main() {
	dbPath := flag.String("db", "", "database path (defaults to database.path from config)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <up|down|version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	switch command := flag.Arg(0); command {
	case "up":
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := database.Rollback(db); err != nil {
			log.WithError(err).Fatal("Rollback failed")
		}
		log.Info("Migrations rolled back successfully")
	case "version":
		version, dirty, err := database.SchemaVersion(db)
		if err != nil {
			log.WithError(err).Fatal("Failed to read schema version")
		}
		log.WithFields(map[string]interface{}{"version": version, "dirty": dirty}).Info("Schema version")
	default:
		log.Fatalf("Unknown command: %s. Use up, down or version.", command)
	}
}
