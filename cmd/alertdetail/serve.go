package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"alertdetail/internal/api"
	"alertdetail/internal/config"
	"alertdetail/internal/engine"
	"alertdetail/internal/ingest"
	"alertdetail/internal/model"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var watchInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification ingest",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 3*time.Second, "config file poll interval")
	return cmd
}

func serve(ctx context.Context, opts *globalOptions, watchInterval time.Duration) error {
	mgr, err := opts.manager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := opts.logger(cfg, os.Stdout)
	logger.Info("alertdetail starting", "version", version, "config", mgr.Path())

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	} else {
		logger.Warn("storage disabled, details and report endpoints will return 503")
	}

	eng, err := engine.NewEngine(cfg, logger, nil, store)
	if err != nil {
		return err
	}

	buffer := cfg.Ingest.ChannelBuffer
	if buffer <= 0 {
		buffer = 1000
	}
	notifications := make(chan model.Notification, buffer)
	eng.Start(ctx, notifications)
	ingest.StartREST(ctx, mgr, notifications, logger)
	ingest.StartKafka(ctx, mgr, notifications, logger)
	api.Start(ctx, mgr, eng, logger, version)

	if mgr.Path() != "" {
		go mgr.Watch(watchInterval, func(next *config.Config) {
			if err := eng.UpdateConfig(next); err != nil {
				logger.Error("config reload rejected", "err", err)
				return
			}
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config watch error", "err", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("alertdetail stopping")
	return nil
}
