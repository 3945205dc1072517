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

	"rentlane/internal/common/config"
	"rentlane/internal/common/logging"
)

const usage = `Usage: migrate [-source URL] [-yes] <command> [arg]

Commands:
  up        Apply all pending migrations
  down      Roll back the last migration
  steps N   Apply (N > 0) or roll back (N < 0) N migrations
  force N   Mark version N as applied and clear the dirty flag
  drop      Drop every object in the database (requires -yes)
  version   Show the current migration version
`

type command struct {
	needsArg bool
	run      func(m *migrate.Migrate, arg int) error
}

var commands = map[string]command{
	"up": {run: func(m *migrate.Migrate, _ int) error {
		return ignoreNoChange(m.Up())
	}},
	"down": {run: func(m *migrate.Migrate, _ int) error {
		return ignoreNoChange(m.Steps(-1))
	}},
	"steps": {needsArg: true, run: func(m *migrate.Migrate, n int) error {
		return ignoreNoChange(m.Steps(n))
	}},
	"force": {needsArg: true, run: func(m *migrate.Migrate, v int) error {
		return m.Force(v)
	}},
	"drop": {run: func(m *migrate.Migrate, _ int) error {
		return m.Drop()
	}},
	"version": {run: printVersion},
}

func main() {
	source := flag.String("source", "file://migrations", "Migration source URL")
	confirmed := flag.Bool("yes", false, "Confirm destructive commands")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*source, *confirmed, flag.Args()); err != nil {
		logging.Error("Migration command failed", "error", err)
		os.Exit(1)
	}
}

func run(source string, confirmed bool, args []string) error {
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if name == "drop" && !confirmed {
		return errors.New("drop requires -yes")
	}

	var arg int
	if cmd.needsArg {
		if len(args) < 2 {
			return fmt.Errorf("%s needs a numeric argument", name)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid argument %q: %w", args[1], err)
		}
		arg = n
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "rentlane-migrate",
	})

	m, err := migrate.New(source, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	logging.Info("Running migration command", "command", name, "source", source)
	if err := cmd.run(m, arg); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logging.Info("Migration command finished", "command", name)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func printVersion(m *migrate.Migrate, _ int) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("No migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)
	return nil
}
