// Command topology-export writes an xlsx or pdf report of one hub's sensors
// and scenarios read from the postgres topology store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smarthub-telemetry/internal/topology/infrastructure/postgres"
	"smarthub-telemetry/internal/topology/interfaces/export"
)

type options struct {
	dbURL   string
	hubID   string
	format  string
	outPath string
	timeout time.Duration
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	db, err := postgres.Open(ctx, opts.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	repo, err := postgres.NewRepository(db)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	report, err := export.Collect(ctx, repo, opts.hubID, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "collect:", err)
		os.Exit(2)
	}
	data, err := export.Build(report, opts.format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(2)
	}

	if dir := filepath.Dir(opts.outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "create out dir:", err)
			os.Exit(2)
		}
	}
	if err := os.WriteFile(opts.outPath, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write report:", err)
		os.Exit(2)
	}

	fmt.Printf("Topology report for %s written to %s (%d sensors, %d scenarios)\n",
		report.HubID, opts.outPath, len(report.Sensors), len(report.Scenarios))
}

func parseFlags() (options, error) {
	var opts options
	flag.StringVar(&opts.dbURL, "db", getenvDefault("HUBCORE_PG_DSN", getenvDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&opts.hubID, "hub", "", "hub id")
	flag.StringVar(&opts.format, "format", "xlsx", "report format: xlsx or pdf")
	flag.StringVar(&opts.outPath, "out", "", "output file (default ./<hub>.<format>)")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	opts.format = strings.ToLower(strings.TrimSpace(opts.format))
	if opts.dbURL == "" {
		return opts, errors.New("missing --db or HUBCORE_PG_DSN/DATABASE_URL")
	}
	if opts.hubID == "" {
		return opts, errors.New("missing --hub")
	}
	if opts.format != "xlsx" && opts.format != "pdf" {
		return opts, fmt.Errorf("unsupported --format %q", opts.format)
	}
	if opts.outPath == "" {
		opts.outPath = opts.hubID + "." + opts.format
	}
	return opts, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
