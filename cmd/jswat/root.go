package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/config"
	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/debug/session"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/metrics"
	"github.com/dshills/jswat/internal/persist"
)

// cli holds what every subcommand shares once flags and configuration are
// loaded.
type cli struct {
	configPath string
	logLevel   string
	noColor    bool

	cfg      *config.Config
	log      *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "jswat",
		Short: "Debugging session core for Java virtual machines",
		Long: `jswat manages debugging sessions and their breakpoints.

Sessions and breakpoints are kept in the session store configured under
[persist] (by default sessions.toml in the user config directory).

Examples:
  jswat pattern 'com.example.*' com.example.Main   # test a class pattern
  jswat breakpoints add com.example.Main:42        # add to the current session
  jswat sessions                                   # list stored sessions
  jswat demo                                       # run an in-memory session`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		patternCmd(c),
		breakpointsCmd(c),
		sessionsCmd(c),
		demoCmd(c),
		versionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger and collectors.
func (c *cli) setup() error {
	paths := []string{config.UserConfigPath()}
	if c.configPath != "" {
		paths = append(paths, c.configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		if _, err := logging.ParseLevel(c.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	c.log = log

	if cfg.Metrics.Enabled {
		c.registry = prometheus.NewRegistry()
		c.metrics = metrics.New(c.registry)
	} else {
		c.metrics = metrics.New(nil)
	}

	if c.noColor {
		color.NoColor = true
	}
	c.log.Debug("configuration loaded",
		zap.String("store", cfg.Persist.Path),
		zap.Bool("metrics", cfg.Metrics.Enabled))
	return nil
}

// sessionOptions configures managers and sessions from the configuration.
func (c *cli) sessionOptions() []session.Option {
	return []session.Option{
		session.WithLogger(c.log),
		session.WithMetrics(c.metrics),
		session.WithIDPrefix(c.cfg.Session.IDPrefix),
		session.WithNamePrefix(c.cfg.Session.NamePrefix),
		session.WithBreakpointFactory(c.factory()),
		session.WithDefaultUncaught(c.cfg.Breakpoints.DefaultUncaught),
	}
}

func (c *cli) factory() breakpoint.Factory {
	return breakpoint.Factory{DefaultPolicy: c.cfg.SuspendPolicy()}
}

// loadManager opens the configured store and restores its sessions.
// Entries that cannot be restored are logged and skipped; an unreadable
// store is an error.
func (c *cli) loadManager() (*session.Manager, *persist.FileStore, error) {
	store, err := c.cfg.Store()
	if err != nil {
		return nil, nil, err
	}
	m := session.NewManager(c.sessionOptions()...)
	if err := m.LoadFrom(store); err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			return nil, nil, err
		}
		c.log.Warn("session store partially loaded",
			zap.String("path", store.Path()),
			zap.Int("failures", len(merr.Errors)),
			zap.Error(err))
	}
	return m, store, nil
}
