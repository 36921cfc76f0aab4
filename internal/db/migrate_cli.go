package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
	case "status":
		return printMigrateStatus(w, database)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: svm migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Forced schema version to %d\n", v)
	case "help":
		PrintMigrateHelp(w)
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

func printMigrateStatus(w io.Writer, database *DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := LatestMigration()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest version:  %d\n", latest)
	if dirty {
		fmt.Fprintln(w, "State: DIRTY (run 'migrate force <version>' after fixing the schema)")
	} else if version < latest {
		fmt.Fprintf(w, "State: %d pending migration(s)\n", latest-version)
	} else {
		fmt.Fprintln(w, "State: up to date")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: svm migrate <action> [args]

Actions:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show current and latest schema version
  force <version> Set the schema version without running migrations
  help            Show this message
`)
}
