package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/outpost/internal/config"
	"github.com/roach88/outpost/internal/reconcile"
	"github.com/roach88/outpost/internal/remote"
	"github.com/roach88/outpost/internal/store"
	"github.com/roach88/outpost/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once     bool
	RedisURL string // Overrides remote.redis_url
}

// BatchSummary is the JSON form of one batch.
type BatchSummary struct {
	Processed int            `json:"processed"`
	Outcomes  map[string]int `json:"outcomes"`
	Merged    []string       `json:"merged,omitempty"`
	Conflicts int            `json:"conflict_reports"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// shutdownTimeout bounds the metrics server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize pending events with the remote authority",
		Long: `Synchronize pending local events with the remote authority in Redis.

By default the coordinator runs a batch every sync.interval until interrupted,
serving Prometheus metrics on metrics.addr when set. With --once a single
batch runs and its outcome is printed.

Examples:
  outpost sync --once --redis redis://localhost:6379/0
  outpost sync --config /etc/outpost.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single batch and exit")
	cmd.Flags().StringVar(&opts.RedisURL, "redis", "", "Redis URL of the remote authority (overrides remote.redis_url)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg, logger, st, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	if opts.RedisURL != "" {
		cfg.Remote.RedisURL = opts.RedisURL
	}
	client, err := newRedisClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	rec, err := newReconciler(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord := syncer.New(st, remote.NewRedis(client, cfg.Remote.KeyPrefix), rec,
		syncer.WithOptions(cfg.SyncOptions()),
		syncer.WithLogger(logger),
		syncer.WithMetrics(syncer.NewMetrics(reg)),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		return runOnce(ctx, opts, coord, st, cmd)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := coord.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, reg, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "sync stopped", err)
	}
	logger.Info("sync stopped gracefully")
	return nil
}

func runOnce(ctx context.Context, opts *SyncOptions, coord *syncer.Coordinator, st *store.Store, cmd *cobra.Command) error {
	if _, err := st.ResetInProgress(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to recover in-progress events", err)
	}

	res, err := coord.RunBatch(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync batch failed", err)
	}

	summary := summarize(res)
	return opts.formatter(cmd).Render(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Processed %d event(s)\n", summary.Processed)
		outcomes := make([]string, 0, len(summary.Outcomes))
		for o := range summary.Outcomes {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			fmt.Fprintf(w, "  %-16s %d\n", o, summary.Outcomes[o])
		}
		for _, id := range summary.Merged {
			fmt.Fprintf(w, "  merge event %s\n", id)
		}
		if summary.Cancelled {
			fmt.Fprintln(w, "  (batch cancelled)")
		}
	})
}

func summarize(res syncer.BatchResult) BatchSummary {
	s := BatchSummary{
		Processed: res.Processed,
		Outcomes:  make(map[string]int),
		Merged:    res.Merged,
		Conflicts: len(res.Reports),
		Cancelled: res.Cancelled,
	}
	for _, o := range res.Outcomes {
		s.Outcomes[string(o)]++
	}
	return s
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Remote.RedisURL == "" {
		return nil, NewExitError(ExitCommandError, "remote authority is not configured (set remote.redis_url or --redis)")
	}
	redisOpts, err := redis.ParseURL(cfg.Remote.RedisURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid redis URL", err)
	}
	return redis.NewClient(redisOpts), nil
}

// newReconciler builds a reconciler from the configured policy file.
func newReconciler(cfg *config.Config) (*reconcile.Reconciler, error) {
	policy, err := config.LoadPolicy(cfg.Reconcile.PolicyFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load reconciliation policy", err)
	}
	return reconcile.New(policy.ReconcilerOptions()...), nil
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
