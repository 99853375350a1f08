package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/executor"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/hostbackend"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/metrics"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/scheduler"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/testrunner"
)

var logf = logger.Get("cmd")

func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the leader-elected scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return newInvalidArgsError("loading config: %v", err)
			}
			return serve(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, metricsAddr string) error {
	clk := clock.WallClock

	reg, err := registry.New(cfg, clk)
	if err != nil {
		return err
	}
	defer reg.Cleanup()

	q, err := queue.New(cfg, clk)
	if err != nil {
		return err
	}
	defer q.Cleanup()

	prog, err := progress.New(cfg.RunDir, clk)
	if err != nil {
		return err
	}

	runner := testrunner.NewShellRunner(cfg.ScriptDir)
	backend := hostbackend.NewNetnsBackend()
	exec := executor.New(cfg, clk, reg, q, prog, runner, backend)

	loop, err := scheduler.New(cfg, clk, reg, q, exec)
	if err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer, q, reg, loop); err != nil {
		logf.Warningf("registering metrics: %v", err)
	}

	maintenanceStop := make(chan struct{})
	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		runMaintenance(maintenanceStop, clk, cfg, reg, q, prog)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf.Errorf("metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	loop.Kill()
	_ = srv.Close()
	close(maintenanceStop)
	<-maintenanceDone

	if err := loop.Wait(); err != nil {
		return err
	}
	return errInterrupted
}

// runMaintenance periodically reclaims stale locks and old progress/run
// state (spec.md §4.A cleanup_stale, §4.D memory and disk cleanup), since
// nothing else in the running daemon calls these on its own. It runs until
// stop is closed.
func runMaintenance(stop <-chan struct{}, clk clock.Clock, cfg config.Config, reg *registry.Manager, q *queue.Service, prog *progress.Tracker) {
	for {
		select {
		case <-stop:
			return
		case <-clk.After(cfg.QueuePollIdle):
		}

		if n, err := reg.CleanupStaleLocks(cfg.CleanupAge); err != nil {
			logf.Warningf("cleaning up stale registry locks: %v", err)
		} else if n > 0 {
			logf.Infof("reclaimed %d stale registry lock(s)", n)
		}

		if n, err := q.CleanupStaleLocks(cfg.CleanupAge); err != nil {
			logf.Warningf("cleaning up stale queue locks: %v", err)
		} else if n > 0 {
			logf.Infof("reclaimed %d stale queue lock(s)", n)
		}

		if n := prog.CleanupMemory(cfg.CleanupAge); n > 0 {
			logf.Infof("dropped %d stale in-memory progress record(s)", n)
		}

		if n, err := prog.CleanupOldRuns(cfg.CleanupAge); err != nil {
			logf.Warningf("cleaning up old run directories: %v", err)
		} else if n > 0 {
			logf.Infof("removed %d old run director(ies)", n)
		}
	}
}
