package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/reposearch/internal/config"
)

// globalFlags are shared by every command
type globalFlags struct {
	config  string
	root    string
	db      string
	verbose bool
}

// cli carries state resolved in PersistentPreRunE
type cli struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "reposearch",
		Short:         "Semantic search over a code repository",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.config, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	pf.StringVar(&c.flags.root, "root", "", "repository root (overrides config)")
	pf.StringVar(&c.flags.db, "db", "", "database path (overrides config)")
	pf.BoolVarP(&c.flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newIndexCmd(c),
		newSearchCmd(c),
		newQualityCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newHealthCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and installs the logger. Logs go to stderr;
// stdout carries results and the MCP protocol.
func (c *cli) setup() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(c.flags.config, wd)
	if err != nil {
		return err
	}
	if c.flags.root != "" {
		cfg.Root = c.flags.root
	}
	if c.flags.db != "" {
		cfg.DBPath = c.flags.db
	}
	if c.flags.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = newLogger(cfg.LogLevel)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
