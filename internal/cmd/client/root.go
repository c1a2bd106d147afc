package client

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serverrun "github.com/rzbill/evstore/internal/cmd/server"
	cfgpkg "github.com/rzbill/evstore/internal/config"
	"github.com/rzbill/evstore/internal/runtime"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// NewRoot constructs the root Cobra command for the evstore binary.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "evstore",
		Short:         "Tenant-partitioned event store with stream archival",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (YAML or JSON); defaults to $EVSTORE_CONFIG")
	pf.String("data-dir", "", "Data directory (overrides config)")
	pf.String("driver", "", "Storage driver: pebble|sqlite|postgres (overrides config)")
	pf.String("dsn", "", "SQL DSN (overrides config)")
	pf.String("log-level", "", "Log level: debug|info|warn|error (overrides config)")

	root.AddCommand(
		newServeCommand(),
		newAppendCommand(),
		newArchiveCommand(),
		newStateCommand(),
		newEventsCommand(),
		newScanCommand(),
		newVerifyCommand(),
		newTenantsCommand(),
	)
	return root
}

// loadConfig loads the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := flags.GetString("driver"); v != "" {
		cfg.Storage.Driver = v
	}
	if v, _ := flags.GetString("dsn"); v != "" {
		cfg.Storage.DSN = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

// withRuntime opens a local runtime for one command and closes it afterwards.
// Notifications are disabled; nothing in a one-shot process subscribes.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Notify.Enabled = false
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(ctx, rt)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the HTTP and gRPC servers",
		Aliases: []string{"server", "run"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serverrun.Run(ctx, serverrun.Options{Config: cfg})
		},
	}
}
