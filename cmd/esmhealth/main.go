// ESM health monitor — staleness checks for the alarm and event feeds of a
// McAfee ESM deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	version string
	commit  string
	date    string
)

func init() {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = time.Now().UTC().Format(time.RFC3339)
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, os.Args[2:])
	case "watch":
		err = cmdWatch(ctx, os.Args[2:])
	case "devices":
		err = cmdDevices(ctx, os.Args[2:])
	case "config":
		err = cmdConfig(ctx, os.Args[2:])
	case "version":
		fmt.Printf("esmhealth %s (commit: %s, built: %s)\n", version, commit, date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: esmhealth <command>

Commands:
  run        Evaluate all configured sources once and print the results
  watch      Run on a cron schedule and serve Prometheus metrics
  devices    List datasource names and IDs from the ESM device tree
  config     Write a default config file (pre-seeds receiver query entries)
  version    Print version information
  help       Show this help

Global flags:
  --config <path>   Config file (default esmhealth.yaml)

Exit codes for run: 0 all sources within threshold, 2 at least one ALERT.
The ESM password may be supplied via ESMHEALTH_PASSWORD instead of the
config file.`)
}

// parseConfigFlag extracts --config from args, returning the path and
// remaining args.
func parseConfigFlag(args []string) (string, []string) {
	configPath := ""
	var remaining []string
	for i := 0; i < len(args); i++ {
		if (args[i] == "--config" || args[i] == "-c") && i+1 < len(args) {
			configPath = args[i+1]
			i++
		} else {
			remaining = append(remaining, args[i])
		}
	}
	return configPath, remaining
}
