package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/db"
)

func main() {
	secrets, err := app.LoadEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	log := zap.S().Named("verify-db")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, secrets.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	counts, err := db.NewStore(pool).TableCounts(ctx)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	for _, table := range db.Tables {
		fmt.Printf("%-15s %d\n", table+":", counts[table])
	}

	var version string
	if err := pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err == nil {
		fmt.Printf("Postgres %s\n", version)
	}
}
