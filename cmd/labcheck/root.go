package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labcheck/app"
	"labcheck/config"
	"labcheck/db"
	"labcheck/labs"
	"labcheck/logging"
	"labcheck/monitoring"
	"labcheck/risk"
)

const defaultConfigPath = "config.yaml"

type rootOptions struct {
	configPath string
	output     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "labcheck",
		Short:         "Lab-value checker for acute pancreatitis with an optional ML risk score",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (default: ./config.yaml if present)")
	pf.StringVarP(&opts.output, "output", "o", "text", "output format (text, json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newTrainCommand(opts),
		newPredictCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

// resolveConfig returns the config and the file it came from. path is empty
// when defaults are used.
func resolveConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	cfg, err := config.Load(defaultConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), "", nil
	}
	return cfg, defaultConfigPath, err
}

// runtime is everything one command invocation needs.
type runtime struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel
	store      *db.Store
	metrics    *monitoring.Metrics
	adapter    *risk.Adapter
	state      *app.State
}

func newRuntime(opts *rootOptions, withRuntimeMetrics bool) (*runtime, error) {
	cfg, path, err := resolveConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger, level, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	metrics := monitoring.NewMetrics("labcheck", withRuntimeMetrics)
	adapter, err := risk.NewAdapter(store, risk.Config{
		ModelKey:  cfg.ML.ModelKey,
		CacheSize: cfg.ML.CacheSize,
		Seed:      cfg.ML.Seed,
	}, logger, metrics)
	if err != nil {
		store.Close()
		return nil, err
	}

	rt := &runtime{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		level:      level,
		store:      store,
		metrics:    metrics,
		adapter:    adapter,
	}
	rt.state = rt.newState(nil)
	return rt, nil
}

// newState builds a session whose training progress goes to progress, which
// may be nil.
func (rt *runtime) newState(progress app.Progress) *app.State {
	return app.NewState(rt.adapter, app.Options{
		Epochs:   rt.cfg.ML.Epochs,
		History:  rt.store,
		Progress: progress,
		Logger:   rt.logger,
		Metrics:  rt.metrics,
	})
}

func (rt *runtime) Close() error {
	_ = rt.logger.Sync()
	return rt.store.Close()
}

// applyValues sets every "Name=value" assignment on the state.
func applyValues(state *app.State, assignments []string) error {
	for _, a := range assignments {
		name, input, err := labs.ParseAssignment(a)
		if err != nil {
			return err
		}
		if err := state.SetValue(name, input); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
