package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"labcheck/config"
	qhttp "labcheck/http"
	"labcheck/logging"
	"labcheck/monitoring"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lab-checker page, JSON API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			if cmd.Flags().Changed("port") {
				rt.cfg.Http.Port = port
			}
			return serve(cmd.Context(), rt)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (overrides http.port)")
	return cmd
}

func serve(parent context.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := rt.logger

	hub := monitoring.NewHub(logger.Named("hub"), rt.cfg.Http.AllowedOrigins)
	rt.state = rt.newState(hub)

	found, err := rt.state.Restore(ctx)
	switch {
	case err != nil:
		// A bad stored model must not keep the rule checker offline.
		logger.Warn("saved model not restored", zap.Error(err))
	case found:
		logger.Info("restored saved model", zap.String("key", rt.adapter.ModelKey()))
	default:
		logger.Info("no saved model, train the demo model first")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if rt.configPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, rt.configPath, logger, func(cfg *config.Config) {
				applyLogLevel(rt, cfg.Log.Level)
			})
			if err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           rt.cfg.Http.Port,
		Timeout:        rt.cfg.Http.Timeout,
		AllowedOrigins: rt.cfg.Http.AllowedOrigins,
	}, qhttp.Deps{
		State:      rt.state,
		Hub:        hub,
		Metrics:    rt.metrics,
		Logger:     logger,
		Background: ctx,
	})

	logger.Info("lab checker ready", zap.String("addr", server.Addr()))
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	err = g.Wait()
	// The store closes after serve returns.
	rt.state.Wait()
	return err
}

func applyLogLevel(rt *runtime, level string) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		rt.logger.Warn("ignoring log level", zap.String("level", level), zap.Error(err))
		return
	}
	if rt.level.Level() != lvl {
		rt.level.SetLevel(lvl)
		rt.logger.Info("log level changed", zap.String("level", lvl.String()))
	}
}
