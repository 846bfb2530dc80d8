package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadEnvConfig("settings.env")

	servers, err := config.LoadServers(cfg.ServersFile)
	if err != nil {
		log.Fatalf("failed to load server inventory: %v", err)
	}
	if len(servers) == 0 {
		log.Printf("Warning: no servers configured for scanning")
	}

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
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server error: %v", err)
		}
	}()

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("scheduler error: %v", err)
	}
}
