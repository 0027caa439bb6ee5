// Command triage fetches helpdesk tickets, suggests taxonomy paths for them,
// writes review worksheets and applies approved changes back to Freshservice.
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

	"github.com/cognicore/triage/internal/logging"
	"github.com/cognicore/triage/pkg/triage/config"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, stdout io.Writer, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"fetch", "Fetch tickets, suggest taxonomy paths and write the review worksheet", runFetch},
		{"review", "Show decisions recorded in a review worksheet", runReview},
		{"apply", "Write approved taxonomy changes back to Freshservice", runApply},
		{"taxonomy", "Print the category hierarchy built from the ticket form", runTaxonomy},
		{"summarize", "Count tickets per current category", runSummarize},
		{"missing", "List recently created tickets that have no category", runMissing},
		{"history", "List recorded analysis runs", runHistory},
		{"schedule", "Run fetch on a cron schedule and post summaries to Slack", runSchedule},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return nil
	}
	switch args[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, stdout, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q (run 'triage help' for a list)", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: triage <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'triage <command> --help' for the flags of one command.")
}

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (g *globalFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "path to config.yaml (default: $TRIAGE_CONFIG or ./config/config.yaml)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
}

// setup loads the configuration, applies the logging flags and installs the
// default logger. The returned function closes the log file, if any.
func (g *globalFlags) setup() (config.Config, func() error, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	closeLog, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, closeLog, nil
}

func newFlagSet(name, usage string, stdout io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprintf(stdout, "Usage: triage %s\n\nFlags:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args and reports whether the command should continue.
// --help prints usage and stops without an error.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	if fs.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return true, nil
}
