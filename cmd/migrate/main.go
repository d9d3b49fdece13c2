// Command migrate applies the embedded Postgres schema.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/expensetracker/internal/config"
	"github.com/example/expensetracker/internal/store"
	"github.com/example/expensetracker/internal/telemetry"
)

// migrator is the part of store.Migrator the commands drive.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fatal("config error", err)
	}
	logger := telemetry.NewLogger(cfg.LogLevel, "migrate", cfg.Env)

	if cfg.DBAdapter != "postgres" {
		fatal("migrations only work with PostgreSQL", fmt.Errorf("current adapter: %s", cfg.DBAdapter))
	}
	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		fatal("postgres config error", err)
	}

	m, err := store.NewMigrator(dsn, logger)
	if err != nil {
		fatal("open migrator", err)
	}
	err = execute(m, *command, *steps, *version, os.Stdout)
	if cerr := m.Close(); cerr != nil {
		logger.Warn("close migrator", "error", cerr)
	}
	if err != nil {
		fatal("migration failed", err)
	}
}

func execute(m migrator, command string, steps int, version uint, out io.Writer) error {
	switch command {
	case "up":
		var err error
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Migrations applied successfully")
	case "down":
		var err error
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Migrations rolled back successfully")
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is in a dirty state (version %d)", v)
		}
		fmt.Fprintf(out, "Current migration version: %d\n", v)
	case "force":
		if version == 0 {
			return fmt.Errorf("version required for force command (use -version flag)")
		}
		if err := m.Force(int(version)); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Forced database to version %d\n", version)
	default:
		return fmt.Errorf("unknown command: %s (supported: up, down, version, force)", command)
	}
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
