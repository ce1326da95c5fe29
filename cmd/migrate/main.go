package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"propman/internal/database"
)

// Usage: migrate [up|version]. Without an argument the migrations are applied.
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	switch cmd {
	case "up":
		if err := database.ApplyMigrations(ctx, db); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Info("migrations applied successfully")
	case "version":
	default:
		log.Fatalf("unknown command %q, expected up or version", cmd)
	}

	version, err := database.MigrationVersion(ctx, db)
	if err != nil {
		log.Fatalf("read schema version: %v", err)
	}
	log.WithField("version", version).Info("schema version")
}
