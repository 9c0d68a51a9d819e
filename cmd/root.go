package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/app"
	"github.com/JakeFAU/serialwatch/internal/config"
	"github.com/JakeFAU/serialwatch/internal/logging"
	"github.com/JakeFAU/serialwatch/internal/telemetry"
)

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

// newApp is the application factory. It's a variable so tests can swap in
// overrides.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile string
	app     *app.App
	logger  *zap.Logger
	tracer  *sdktrace.TracerProvider
}

// newRootCmd creates the root command and wires its subcommands.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serialwatch",
		Short: "Watches a serial-number registry for newly issued records.",
		Long: `serialwatch finds the newest serial the registry has issued, scans
the serials it has not seen yet, and keeps a durable watermark so every
session picks up where the previous one stopped.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.logger = logger

			tp, err := telemetry.InitTracerProvider(cmd.Context(), "serialwatch")
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			opts.tracer = tp

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON, or TOML)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newLocateCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newWatchCmd())
	return cmd
}

// close shuts the app down and flushes the logger.
func (o *rootOptions) close() {
	if o.app != nil {
		if err := o.app.Close(); err != nil {
			o.logger.Warn("error closing services", zap.Error(err))
		}
		o.app = nil
	}
	if o.tracer != nil {
		if err := o.tracer.Shutdown(context.Background()); err != nil {
			o.logger.Warn("error shutting down tracer", zap.Error(err))
		}
		o.tracer = nil
	}
	if o.logger != nil {
		_ = o.logger.Sync()
	}
}

// execute runs the CLI with args and always closes what PersistentPreRunE opened.
func execute(ctx context.Context, args []string, out io.Writer) error {
	opts := &rootOptions{}
	defer opts.close()
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command; an interrupted session still persists its progress.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
