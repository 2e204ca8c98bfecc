// Meterflow ingests interval readings from a smart-meter bulk API and
// reconstructs hourly per-device load and production series.
//
// Usage:
//
//	meterflow [flags] <command>
//
// Commands:
//
//	usagepoints  build the topology association table from usage point exports
//	ingest       fetch every unprocessed group into the raw stage, retrying until done
//	bronze       merge the raw batches of processed groups into bronze tables
//	silver       reconstruct hourly series from bronze
//	run          ingest, bronze and silver in sequence
//	export       write stored silver series to InfluxDB
//	serve        serve registry progress and silver series over HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errUsage marks command line mistakes; main prints help for them.
var errUsage = errors.New("usage")

// options are the parsed command line flags.
type options struct {
	configPath string
	groups     []string
	force      bool
	noSave     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run parses args and executes one command.
func run(ctx context.Context, args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("meterflow", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&opts.configPath, "config", "c", configPathFromEnv(), "path to the YAML configuration file")
	flagSet.StringSliceVarP(&opts.groups, "group", "g", nil, "restrict bronze, silver and export to these groups")
	flagSet.BoolVarP(&opts.force, "force", "f", false, "recompute bronze and silver output that already exists")
	flagSet.BoolVar(&opts.noSave, "no-save", false, "compute silver without writing it")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if help, _ := flagSet.GetBool("help"); help { //nolint:errcheck // flag is registered above
		printHelp(flagSet)
		return nil
	}
	if *showVersion {
		fmt.Printf("meterflow %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("%w: expected exactly one command", errUsage)
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}

	app, err := newApp(opts)
	if err != nil {
		return err
	}
	defer app.close()

	app.log.Info("starting meterflow",
		"command", rest[0],
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	return cmd(ctx, app)
}

// configPathFromEnv returns the configuration file path.
// Uses METERFLOW_CONFIG environment variable if set, otherwise default.
func configPathFromEnv() string {
	if path := os.Getenv("METERFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `meterflow - smart-meter bulk ingestion and hourly reconstruction

Usage:
  meterflow [flags] <command>

Commands:
  usagepoints  build the topology association table from usage point exports
  ingest       fetch every unprocessed group into the raw stage, retrying until done
  bronze       merge the raw batches of processed groups into bronze tables
  silver       reconstruct hourly series from bronze
  run          ingest, bronze and silver in sequence
  export       write stored silver series to InfluxDB
  serve        serve registry progress and silver series over HTTP

Flags:
%s`, flagSet.FlagUsages())
}
