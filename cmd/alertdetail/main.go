// Command alertdetail renders LibreNMS alert fault details, serves them over
// HTTP and composes the alert log report.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"alertdetail/internal/config"
	"alertdetail/internal/logging"
	"alertdetail/internal/storage"
)

var version = "dev"

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "alertdetail",
		Short:        "Render alert fault details from alert_log snapshots",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("ALERTDETAIL_CONFIG"), "config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format: json or text")

	root.AddCommand(
		newServeCmd(opts),
		newRenderCmd(opts),
		newDecodeCmd(),
		newEncodeCmd(),
		newReportCmd(opts),
	)
	return root
}

// manager loads the config file, or the defaults when no file is given.
func (o *globalOptions) manager() (*config.Manager, error) {
	if o.configPath == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	m, err := config.NewManager(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m, nil
}

func (o *globalOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	return logging.NewLoggerTo(w, level, o.logFormat)
}

// openStore opens and initializes the configured store. It returns nil
// when storage is disabled.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return st, nil
}
