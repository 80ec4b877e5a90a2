package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/cuemby/fleetcore/pkg/config"
)

var (
	migrationsDir = flag.String("migrations-dir", "migrations", "directory of .up.sql/.down.sql migration files")
	down          = flag.Bool("down", false, "roll back one migration instead of applying pending ones")
	dryRun        = flag.Bool("dry-run", false, "report the current schema version without applying changes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("fleetcore schema migration tool")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsDir), cfg.CockroachDBURL)
	if err != nil {
		log.Fatalf("creating migrator: %v", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.Fatalf("reading schema version: %v", err)
	}
	log.Printf("current version: %d (dirty=%v)", version, dirty)

	if *dryRun {
		log.Println("dry run requested, not applying changes")
		return
	}

	if *down {
		if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("rolling back migration: %v", err)
		}
		log.Println("rolled back one migration")
		return
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("applying migrations: %v", err)
	}
	log.Println("schema is up to date")
}
