package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dray-io/sdbcompact/internal/config"
	"github.com/dray-io/sdbcompact/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Handle version flag before subcommand parsing
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("sdbcompact version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "compact":
		runCompact(os.Args[2:])
	case "dump":
		runDump(os.Args[2:])
	case "archive":
		runArchive(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version":
		fmt.Printf("sdbcompact version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: sdbcompact <command> [options]

Commands:
  compact     Rewrite the mnode WAL keeping only the history of live keys
  dump        Print the records of a WAL directory
  archive     List or restore archived WAL segments
  config      Print the effective configuration
  version     Print version information

Run 'sdbcompact <command> --help' for more information on a command.`)
}

// loadConfig loads from path when given, else from SDBCOMPACT_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newLogger installs the global logger for cfg. quiet discards all output.
func newLogger(cfg *config.Config, quiet bool) *logging.Logger {
	if quiet {
		l := logging.Discard()
		logging.SetGlobal(l)
		return l
	}
	l := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if cfg.Observability.LogCaller {
		l.SetAddCaller(true)
	}
	return l
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Usage = func() {
		fmt.Println(`Usage: sdbcompact config [options]

Print the configuration after defaults, file and SDBCOMPACT_* overrides
are applied. Credentials are redacted.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	data, err := cfg.YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}
