package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/sttts/kw/internal/app"
	"github.com/sttts/kw/internal/cluster"
	"github.com/sttts/kw/internal/discovery"
	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/reflector"
	"github.com/sttts/kw/internal/ui"
	"github.com/sttts/kw/pkg/appconfig"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	kubeconfig  string
	context     string
	configPath  string
	logFile     string
	verbosity   int
	metricsAddr string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "kw",
		Short: "Live terminal view of a Kubernetes cluster",
		Long: `kw watches the kinds of a Kubernetes cluster and shows their objects
as tables whose columns are configured per kind in ~/.kw/config.yaml.

Key Bindings:
  ↑/↓         Navigate items
  Tab         Switch between kinds and objects
  Enter       Show the selected kind
  d, F8       Delete object
  l           Toggle logs of a pod
  p           Toggle port-forward to a pod
  u           Switch between typed and unstructured decoding
  r           Re-request rows
  q, F10      Quit`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file. Defaults to the client-go loading rules.")
	flags.StringVar(&o.context, "context", "", "Kubeconfig context to use.")
	flags.StringVar(&o.configPath, "config", "", "Path to the kw config. Defaults to ~/.kw/config.yaml.")
	flags.StringVar(&o.logFile, "log-file", "", "File to write logs to. Defaults to ~/.kw/kw.log.")
	flags.IntVarP(&o.verbosity, "verbosity", "v", 0, "Log level (0-9)")
	flags.StringVar(&o.metricsAddr, "metrics-bind-address", "", "Address to serve Prometheus metrics on, e.g. :8080. Disabled when empty.")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kw version %s\nCommit: %s\nDate: %s\n", version, commit, date)
		},
	})
	return cmd
}

// setupLogging sends all logs, including client-go's, to a file. The
// terminal belongs to the UI.
func setupLogging(path string, verbosity int) (logr.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logr.Discard(), nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("open log file: %w", err)
	}
	log := zap.New(zap.WriteTo(f), zap.UseDevMode(true), zap.Level(zapcore.Level(-verbosity)))
	ctrl.SetLogger(log)
	klog.SetLogger(log)
	return log, func() { _ = f.Close() }, nil
}

func run(ctx context.Context, o *options) error {
	dir, err := appconfig.Dir()
	if err != nil {
		return err
	}
	if o.configPath == "" {
		o.configPath = filepath.Join(dir, "config.yaml")
	}
	if o.logFile == "" {
		o.logFile = filepath.Join(dir, "kw.log")
	}
	log, closeLog, err := setupLogging(o.logFile, o.verbosity)
	if err != nil {
		return err
	}
	defer closeLog()
	log = log.WithName("kw")
	log.Info("starting", "version", version, "commit", commit)

	cfg, err := appconfig.LoadFile(o.configPath)
	if err != nil {
		// defaults are returned alongside the error
		log.Info("using default config", "severity", "warning", "path", o.configPath, "err", err)
	}

	restConfig, err := cluster.LoadConfig(o.kubeconfig, o.context)
	if err != nil {
		return err
	}
	cl, err := cluster.New(restConfig)
	if err != nil {
		return err
	}

	cacheDir := cfg.Discovery.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(dir, "cache")
	}

	m := metrics.New()
	a, err := app.New(app.Options{
		Config:     cfg,
		ConfigPath: o.configPath,
		Source:     &reflector.DynamicSource{Client: cl.Dynamic(), Mapper: cl.RESTMapper()},
		Lister:     cl.Discovery(),
		Cache:      &discovery.FileCache{Dir: cacheDir},
		Identity:   discovery.Identity(cl.Host()),
		Deleter:    cl.Deleter(),
		Logs:       cl.LogStreamer(),
		Forwarder:  cl.PortForwarder(),
		Log:        log,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.metricsAddr != "" {
		srv := &http.Server{Addr: o.metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server failed", "address", o.metricsAddr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return ui.Run(ctx, a)
}
