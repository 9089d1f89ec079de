// Database migration runner for drawpool.
//
// Usage:
//
//	go run ./cmd/migrate [up|down|status|version] [flags]
//
// DATABASE_URL must point at the target PostgreSQL instance.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/lootlabs/drawpool/internal/logging"
)

var migrationsDir = flag.String("dir", "migrations", "directory with migration files")

func main() {
	flag.Parse()
	logger := logging.New("info", "text")

	args := flag.Args()
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set dialect", "error", err)
		os.Exit(1)
	}

	switch command {
	case "up", "down", "status", "version", "redo", "reset":
		if err := goose.Run(command, db, *migrationsDir, args[1:]...); err != nil {
			logger.Error("migration failed", "command", command, "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}

	logger.Info("migration complete", "command", command)
}
