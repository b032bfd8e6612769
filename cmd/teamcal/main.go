// Command teamcal talks to a team calendar backend from the terminal: it
// follows the realtime feed of a calendar, drives edit leases and can run a
// local development backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-teamcal/v1/config"
	"github.com/mirkobrombin/go-teamcal/v1/lock"
	"github.com/mirkobrombin/go-teamcal/v1/metrics"
)

type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
	reg    *prometheus.Registry
	tp     *sdktrace.TracerProvider
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var cfgFile string

	root := &cobra.Command{
		Use:           "teamcal",
		Short:         "Team calendar collaboration client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, cfgFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}

	a.v = config.New("")
	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/teamcal/teamcal.yaml)")
	flags.String("base-url", "", "application base URL")
	flags.String("session", "", "session cookie value")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("metrics-listen", "", "address serving /metrics")
	flags.Bool("trace", false, "print spans to stderr")
	_ = a.v.BindPFlag("server.base_url", flags.Lookup("base-url"))
	_ = a.v.BindPFlag("server.session", flags.Lookup("session"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("metrics.listen", flags.Lookup("metrics-listen"))
	_ = a.v.BindPFlag("tracing.enabled", flags.Lookup("trace"))

	root.AddCommand(newWatchCmd(a), newLockCmd(a), newServeCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command, cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	}
	if err := config.Read(a.v); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.Logging.SlogLevel()
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Logging.Format, level)
	slog.SetDefault(a.logger)

	a.reg = metrics.NewRegistry()
	metrics.RegisterMetrics(a.reg)

	if cfg.Tracing.Enabled {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(cmd.ErrOrStderr()))
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		a.tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(a.tp)
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return a.tp.Shutdown(ctx)
}

// run executes fn and, when metrics.listen is set, serves /metrics until fn
// returns.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.cfg.Metrics.Listen == "" {
		return fn(ctx)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("teamcal: serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		return fn(gctx)
	})
	return g.Wait()
}

func (a *app) lockClient() *lock.HTTPClient {
	var opts []lock.HTTPOption
	if s := a.cfg.Server.Session; s != "" {
		opts = append(opts, lock.WithHeader("Cookie", "SESSION="+s))
	}
	return lock.NewHTTPClient(a.cfg.APIURL(), opts...)
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "teamcal:", err)
		os.Exit(1)
	}
}
