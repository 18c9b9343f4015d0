package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"servo-dispatcher/internal/actions"
	"servo-dispatcher/internal/datalog"
	"servo-dispatcher/internal/dispatch"
	"servo-dispatcher/internal/scheduler"
)

const shutdownGrace = 5 * time.Second

var serveLoopback bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device pool, action server and scheduler",
	Long: `Refresh the device pool, serve the registered actions over HTTP and run
the schedule file until interrupted.

With --loopback the scheduler performs actions by requesting them from the
action server, as an external caller would; otherwise it calls them in
process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveLoopback, "loopback", false, "Dispatch scheduled actions through the HTTP server")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := datalog.Open(ctx, cfg.Datalog, log.With("component", "datalog"))
	if err != nil {
		return fmt.Errorf("open register log: %w", err)
	}
	defer rec.Close()

	mgr := newPool(cfg, log)
	defer mgr.Close()
	mgr.Refresh(ctx)
	log.Info("device pool ready", "ports", mgr.Count(), "servos", len(mgr.Servos()), "conflicts", len(mgr.Conflicts()))

	reg := dispatch.NewRegistry()
	var dispatcher scheduler.Dispatcher = reg
	client := dispatch.NewClient(loopbackAddress(cfg.HTTP.Listen), cfg.Scheduler.ActionTimeout)
	if serveLoopback {
		dispatcher = client
	}
	sched := scheduler.New(dispatcher, scheduler.Options{
		Path:          cfg.ScheduleFile,
		ActionTimeout: cfg.Scheduler.ActionTimeout,
		Logger:        log.With("component", "scheduler"),
	})
	sched.SetEnabled(cfg.Scheduler.Enabled)

	if err := actions.Register(reg, actions.Deps{
		Pool:      mgr,
		Scheduler: sched,
		Recorder:  rec,
		Logger:    log.With("component", "actions"),
	}); err != nil {
		return fmt.Errorf("register actions: %w", err)
	}
	srv := dispatch.NewServer(cfg.HTTP.Listen, reg, mgr, log.With("component", "http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if serveLoopback {
			if err := waitReady(gctx, client); err != nil {
				return nil
			}
		}
		// A schedule that fails to load leaves the server running without it.
		if err := sched.Start(gctx); err == nil {
			defer sched.Stop()
		}
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("servod stopped", "error", err)
		return err
	}
	log.Info("servod stopped")
	return nil
}

// waitReady polls the health route until the server answers or ctx ends.
func waitReady(ctx context.Context, client *dispatch.Client) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if err := client.Get(ctx, "health", nil); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
