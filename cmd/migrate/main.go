// Command migrate applies the self-hosted schema to DATABASE_URL.
//
//	migrate up|down|version
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"storefront/config"
	"storefront/internal/store"
	"storefront/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|version")
		os.Exit(2)
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()
	logger := util.Component("migrate")

	// Migrations never issue tokens, the secret only has to be non-empty.
	secret := cfg.Database.JWTSecret
	if secret == "" {
		secret = "migrate"
	}
	db, err := store.NewStore(cfg.Database.URL, secret, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		err = db.MigrateUp()
	case "down":
		err = db.MigrateDown()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = db.MigrationVersion()
		if err == nil && version == 0 {
			logger.Info("No migrations applied")
			return
		}
		if err == nil {
			logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	default:
		logger.Fatal("Unknown command", zap.String("command", os.Args[1]))
	}
	if err != nil {
		logger.Fatal("Migration failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
	logger.Info("Done", zap.String("command", os.Args[1]))
}
