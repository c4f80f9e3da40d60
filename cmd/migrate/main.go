package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/mor/automatr/internal/logger"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Settings database URL (default $SETTINGS_DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("SETTINGS_DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or SETTINGS_DATABASE_URL")
	}

	if err := run(databaseURL, migrationsPath, command, flag.Args()); err != nil {
		logger.Fatal("migration failed", "command", command, "error", err)
	}
}

func run(databaseURL, migrationsPath, command string, args []string) error {
	logger.Info("connecting to settings database", "path", migrationsPath)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("settings schema is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied")

	case "down":
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrations rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		logger.Info("current schema version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("forced schema version", "version", version)

	default:
		return fmt.Errorf("unknown command %s (use: up, down, version, force)", command)
	}
	return nil
}
