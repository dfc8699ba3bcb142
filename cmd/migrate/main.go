// Command migrate applies and inspects the jobs table's versioned Postgres
// schema, grounded on the teacher's cmd/migrate/main.go subcommand CLI.
//
// Usage:
//
//	go run cmd/migrate/main.go up       # Apply all pending migrations
//	go run cmd/migrate/main.go down     # Roll back the last migration
//	go run cmd/migrate/main.go version  # Show the current schema version
//	go run cmd/migrate/main.go force N  # Force version to N (fix dirty state)
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"codejudge/internal/config"
	"codejudge/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StoreBackend != config.BackendPostgres {
		log.Fatalf("migrate: STORE_BACKEND is %q, versioned migrations only apply to postgres (sqlite uses AutoMigrate)", cfg.StoreBackend)
	}

	runner, err := store.NewMigrationRunner(cfg.DatabaseDSN, cfg.MigrationsPath)
	if err != nil {
		log.Fatalf("create migration runner: %v", err)
	}
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		if err := runner.Up(); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("all migrations applied")
	case "down":
		if err := runner.Down(); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("rolled back one migration")
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("migrate version: %v", err)
		}
		fmt.Printf("version: %d\ndirty:   %v\n", version, dirty)
		if dirty {
			fmt.Printf("\ndatabase is in a dirty state; use 'migrate force %d' after fixing the schema by hand\n", version)
		}
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate force <version>")
		}
		v, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("invalid version %q: %v", os.Args[2], err)
		}
		if err := runner.Force(v); err != nil {
			log.Fatalf("migrate force: %v", err)
		}
		log.Printf("version forced to %d", v)
	case "help":
		printUsage()
	default:
		log.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`codejudge migration tool

Usage:
  migrate <command> [arguments]

Commands:
  up            Apply all pending migrations
  down          Roll back the last migration
  version       Show the current schema version
  force <N>     Force schema version to N (fix a dirty state)
  help          Show this help message

Environment Variables (see internal/config):
  DATABASE_URL, DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE
  MIGRATIONS_PATH (default: internal/store/migrations)
`)
}
