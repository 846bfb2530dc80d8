package main

import (
	"context"
	"flag"
	"log"

	"f0oster/dbspy/config"
	"f0oster/dbspy/database"
)

// Dev tool: drop and recreate the pipeline database, then apply the schema.
func main() {
	dbName := flag.String("db", "dbspy", "Name of the database to recreate")
	flag.Parse()

	cfg := config.LoadEnvConfig("settings.env")
	if cfg.ManagementDsn == "" {
		log.Fatal("DBSPY_MANAGEMENT_DSN is required to reset the database")
	}

	ctx := context.Background()
	if err := database.ResetDatabase(ctx, cfg.ManagementDsn, *dbName); err != nil {
		log.Fatalf("failed to reset database: %v", err)
	}

	db := database.NewDatabase(cfg.DatabaseDsn)
	if err := db.Connect(ctx); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	db.Close()

	log.Printf("Database %q ready", *dbName)
}
