package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/metrics"
)

var (
	metricsAddr string
	parallelism int
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Start every resource of the topology locally",
	Long: `Allocates endpoints, resolves connection strings and environment, and
starts containers and executables in dependency order. Resources are
stopped in reverse order on interrupt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 4, "Resources started concurrently within one dependency wave")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadProject(ctx, args)
	if err != nil {
		return err
	}

	docker, err := launcher.NewDocker(logging.For("docker"))
	if err != nil {
		return err
	}
	collector := metrics.NewCollector("apphost")

	b, err := p.builder(
		hosting.WithLauncher(&launcher.Local{Containers: docker, Executables: launcher.NewProcess(logging.For("process"))}),
		hosting.WithAllocator(lifecycle.NewPortAllocator()),
		hosting.WithMetrics(collector),
		hosting.WithParallelism(parallelism),
		hosting.WithLogger(logging.For("hosting")),
	)
	if err != nil {
		return err
	}
	app, err := b.Build()
	if err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, collector)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Starting %s (%d resources, session %s)\n", p.topology.Name, len(app.Resources()), docker.Session())
	return app.Run(ctx)
}

func serveMetrics(addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logging.Info("serving metrics", "addr", addr)
	return srv
}
