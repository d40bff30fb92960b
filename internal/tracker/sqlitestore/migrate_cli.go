package sqlitestore

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// RunMigrateCommand handles the "migrate" subcommand against the database
// at dbPath. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	store, err := Open(dbPath, Options{SkipMigrate: true})
	if err != nil {
		return fmt.Errorf("failed to open tracker database: %w", err)
	}
	defer store.Close()

	switch action := args[0]; action {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ All migrations applied successfully")
		return printVersion(store, w)

	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ Migration rolled back successfully")
		return printVersion(store, w)

	case "status":
		return printStatus(store, w)

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: modelpipe migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := store.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Migration version forced to %d\n", v)
		return nil

	case "help":
		PrintMigrateHelp(w)
		return nil

	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(s *Store, w io.Writer) error {
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(s *Store, w io.Writer) error {
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest available: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(w, "⚠️  Database is in a dirty state. Inspect it, then run: modelpipe migrate force <version>")
	case version < latest:
		fmt.Fprintf(w, "⚠️  Database is %d version(s) behind. Run 'modelpipe migrate up' to update.\n", latest-version)
	default:
		fmt.Fprintln(w, "✓ Database is up to date!")
	}
	return nil
}

// LatestMigrationVersion returns the highest embedded migration version.
func LatestMigrationVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, err
	}
	var latest uint
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// PrintMigrateHelp describes the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: modelpipe migrate <action> [args]

Actions:
  up               Apply all pending migrations
  down             Roll back the most recent migration
  status           Show current and latest schema versions
  force <version>  Set the recorded version (recovery from a dirty state)
  help             Show this help
`)
}
