package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/intake-labs/ire/pkg/broker"
	"github.com/intake-labs/ire/pkg/ingest"
	"github.com/intake-labs/ire/pkg/observability"
	"github.com/intake-labs/ire/pkg/orchestrator"
)

type workerOptions struct {
	*rootOptions
	Dropbox  string
	Workers  int
	Redis    string
	OTLP     string
	PollWait time.Duration
}

func newWorkerCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &workerOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the intake worker against a dropbox directory",
		Long: `Poll a dropbox directory for .eml files, enqueue each message once,
and run decision chains until interrupted.

With --redis the broker and the per-message lease run on Redis Streams,
so multiple workers may share one dropbox. Without it a single-process
in-memory broker with a file lease is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dropbox, "dropbox", "", "directory to poll for .eml files (required)")
	_ = cmd.MarkFlagRequired("dropbox")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "concurrent chain workers")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "redis address for broker and lease (optional)")
	cmd.Flags().StringVar(&opts.OTLP, "otlp", "", "OTLP collector endpoint for telemetry (optional)")
	cmd.Flags().DurationVar(&opts.PollWait, "poll", 5*time.Second, "dropbox poll interval")

	return cmd
}

func runWorker(ctx context.Context, opts *workerOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	telemetry, err := buildTelemetry(ctx, opts.OTLP)
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	b, lease, err := buildBroker(ctx, rt, opts)
	if err != nil {
		return err
	}
	defer b.Close()

	src, err := ingest.NewDropbox(opts.Dropbox)
	if err != nil {
		return err
	}

	deadlines := observability.NewMonitor()
	slos := observability.NewSLOTracker()
	slos.SetTarget(&observability.SLOTarget{
		SLOID:       "route-decision",
		Name:        "routing decision",
		Operation:   "route",
		LatencyP99:  2 * time.Second,
		SuccessRate: 0.99,
		WindowHours: 24,
	})
	rt.pipeline.SLOs = slos

	pool := &orchestrator.Pool{
		Broker:    b,
		Lease:     lease,
		Pipeline:  rt.pipeline,
		Telemetry: telemetry,
		Deadlines: deadlines,
		Workers:   opts.Workers,
	}

	// The feeder drains the dropbox, sleeps, and drains again. The
	// cursor file inside the dropbox keeps restarts idempotent. Each
	// cycle also reports overdue SLA clocks and SLO burn.
	go func() {
		ticker := time.NewTicker(opts.PollWait)
		defer ticker.Stop()
		for {
			if err := pool.Feed(ctx, src); err != nil && ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "feed:", err)
			}
			for _, dl := range deadlines.Breached(time.Now()) {
				fmt.Fprintf(os.Stderr, "sla breach: %s in %s, due %s (%s)\n",
					dl.MessageID, dl.QueueID, dl.DueAt.Format(time.RFC3339), dl.SLA)
			}
			if st, err := slos.Status("route"); err == nil && !st.InCompliance {
				fmt.Fprintf(os.Stderr, "slo: route out of compliance, p99=%.0fms success=%.3f budget=%.1f%%\n",
					st.CurrentP99, st.CurrentSuccess, st.ErrorBudgetLeft)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return pool.Run(ctx)
}

func buildTelemetry(ctx context.Context, endpoint string) (*observability.Provider, error) {
	cfg := observability.DefaultConfig()
	if endpoint != "" {
		cfg.Enabled = true
		cfg.OTLPEndpoint = endpoint
	}
	return observability.New(ctx, cfg)
}

func buildBroker(ctx context.Context, rt *runtime, opts *workerOptions) (broker.Broker, broker.Lease, error) {
	maxAttempts := rt.snapshot.Retry.MaxAttempts

	if opts.Redis == "" {
		lease, err := broker.NewFileLease(filepath.Join(opts.DataDir, "leases"), time.Minute)
		if err != nil {
			return nil, nil, err
		}
		return broker.NewMemory(1024, maxAttempts), lease, nil
	}

	client := redis.NewClient(&redis.Options{Addr: opts.Redis})
	host, _ := os.Hostname()
	b, err := broker.NewRedis(ctx, client, broker.RedisConfig{
		Stream:      "ire:jobs",
		DeadStream:  "ire:jobs:dead",
		Group:       "ire-workers",
		Consumer:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		MaxAttempts: maxAttempts,
		Block:       2 * time.Second,
		MinIdle:     time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	return b, broker.NewRedisLease(client, time.Minute), nil
}
