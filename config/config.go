package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"f0oster/dbspy/scan"
)

// Configuration holds the daemon's settings, loaded from an env file plus
// the process environment.
type Configuration struct {
	// DatabaseDsn is the pipeline's own Postgres database.
	DatabaseDsn string
	// ManagementDsn points at a maintenance database for ResetDatabase.
	ManagementDsn string

	// ServersFile is the JSON inventory of servers to scan.
	ServersFile string

	ScanInterval    time.Duration
	FetchTimeout    time.Duration
	ScanWorkers     int
	MinConfidence   float64
	NotificationTTL time.Duration
	ListenAddr      string
}

// LoadEnvConfig loads settings from the named env file and the environment.
// Missing required values are fatal; the daemon cannot run without them.
func LoadEnvConfig(configName string) Configuration {
	if err := godotenv.Load(configName); err != nil {
		log.Printf("No env file %s, using process environment", configName)
	}

	cfg := Configuration{
		DatabaseDsn:     os.Getenv("DBSPY_DSN"),
		ManagementDsn:   os.Getenv("DBSPY_MANAGEMENT_DSN"),
		ServersFile:     envString("DBSPY_SERVERS_FILE", "servers.json"),
		ScanInterval:    envHours("DBSPY_SCAN_INTERVAL_HOURS", 4),
		FetchTimeout:    envSeconds("DBSPY_FETCH_TIMEOUT_SECONDS", 30),
		ScanWorkers:     envInt("DBSPY_SCAN_WORKERS", 4),
		MinConfidence:   envFloat("DBSPY_MIN_CONFIDENCE", 0.4),
		NotificationTTL: envHours("DBSPY_NOTIFICATION_TTL_HOURS", 168),
		ListenAddr:      envString("DBSPY_LISTEN_ADDR", ":8080"),
	}

	if cfg.DatabaseDsn == "" {
		log.Fatal("DBSPY_DSN is required")
	}

	return cfg
}

// LoadServers reads the server inventory file. Unknown fields are ignored
// so the inventory format can grow without breaking older daemons.
func LoadServers(path string) ([]scan.ServerDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read servers file %s: %w", path, err)
	}

	var servers []scan.ServerDescriptor
	if err := json.Unmarshal(raw, &servers); err != nil {
		return nil, fmt.Errorf("parse servers file %s: %w", path, err)
	}

	for i, server := range servers {
		if server.Name == "" {
			return nil, fmt.Errorf("server entry %d has no name", i)
		}
		if server.Dialect == "" {
			return nil, fmt.Errorf("server %s has no dialect", server.Name)
		}
	}
	return servers, nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("failed to parse %s=%q as integer: %v", key, raw, err)
	}
	return value
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("failed to parse %s=%q as float: %v", key, raw, err)
	}
	return value
}

func envHours(key string, fallbackHours int) time.Duration {
	return time.Duration(envInt(key, fallbackHours)) * time.Hour
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}
