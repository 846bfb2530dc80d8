// Package database persists the pipeline's state in Postgres: scan
// snapshots, active notifications and their history, and approved
// correlations. Records are stored as self-describing JSONB bodies next to
// the columns the queries filter on, so historical rows stay readable as
// fields come and go.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Database struct {
	dsn  string
	pool *pgxpool.Pool
}

func NewDatabase(dsn string) *Database {
	return &Database{dsn: dsn}
}

// Connect opens the connection pool and applies the schema. Schema
// statements are idempotent.
func (db *Database) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, db.dsn)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	db.pool = pool
	return nil
}

func (db *Database) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

// ResetDatabase drops and recreates the named database. Dev convenience
// only; the management DSN must point at a maintenance database.
func ResetDatabase(ctx context.Context, managementDsn, dbName string) error {
	managementPool, err := pgxpool.New(ctx, managementDsn)
	if err != nil {
		return fmt.Errorf("connect to management database: %w", err)
	}
	defer managementPool.Close()

	if _, err := managementPool.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName); err != nil {
		return fmt.Errorf("drop database %s: %w", dbName, err)
	}
	if _, err := managementPool.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}

	log.Printf("Database %q recreated", dbName)
	return nil
}
