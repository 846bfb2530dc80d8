package main

import (
	"context"
	"flag"
	"log"

	"f0oster/dbspy/config"
	"f0oster/dbspy/correlate"
	"f0oster/dbspy/database"
	"f0oster/dbspy/dbsource"
	"f0oster/dbspy/notify"
	"f0oster/dbspy/pipeline"
	"f0oster/dbspy/scan"
	"f0oster/dbspy/scheduler"
	"f0oster/dbspy/web"
)

// API-only entrypoint: serves the pipeline API against an existing database
// without running scan cycles. Scanning stays with the daemon; the scheduler
// here is never started, so its status reports not running.
func main() {
	addr := flag.String("addr", "", "Listen address for the API server (overrides DBSPY_LISTEN_ADDR)")
	flag.Parse()

	cfg := config.LoadEnvConfig("settings.env")
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	servers, err := config.LoadServers(cfg.ServersFile)
	if err != nil {
		log.Fatalf("failed to load server inventory: %v", err)
	}

	ctx := context.Background()
	db := database.NewDatabase(cfg.DatabaseDsn)
	if err := db.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	snapshots := database.NewSnapshotStore(db)
	notifications := database.NewNotificationStore(db)
	correlations := database.NewCorrelationStore(db)

	scanner := scan.NewScanner(dbsource.DefaultRegistry(), snapshots,
		scan.WithFetchTimeout(cfg.FetchTimeout),
		scan.WithWorkers(cfg.ScanWorkers),
	)
	notifier := notify.NewNotifier(notifications, correlations,
		correlate.NewEngine(correlate.DefaultWeights()), snapshots,
		notify.WithMinConfidence(cfg.MinConfidence),
		notify.WithTTL(cfg.NotificationTTL),
	)

	pipe := pipeline.New(scanner, notifier, snapshots, servers)
	sched := scheduler.New(pipe, cfg.ScanInterval)

	apiServer := web.NewServer(notifier, pipe, sched, cfg.ListenAddr)
	log.Printf("Starting API-only server at %s", cfg.ListenAddr)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("API server error: %v", err)
	}
}
