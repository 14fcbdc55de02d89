package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-cacheable/cache"
	"github.com/goliatone/go-cacheable/pkg/di"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Customer is the model the demo caches.
type Customer struct {
	ID     uuid.UUID
	Name   string
	Joined time.Time
}

func (c *Customer) ModelName() string { return "customer" }

func (c *Customer) ToPlain() map[string]any {
	return map[string]any{
		"id":     c.ID.String(),
		"name":   c.Name,
		"joined": c.Joined,
	}
}

// directory plays the slow backend behind the cached functions.
type directory struct {
	customers map[uuid.UUID]*Customer
	queries   atomic.Int64
	latency   time.Duration
}

func newDirectory(latency time.Duration) *directory {
	d := &directory{customers: make(map[uuid.UUID]*Customer), latency: latency}
	for _, name := range []string{"Ada", "Grace", "Barbara"} {
		c := &Customer{ID: uuid.New(), Name: name, Joined: time.Now().UTC().Truncate(time.Second)}
		d.customers[c.ID] = c
	}
	return d
}

func (d *directory) find(ctx context.Context, id uuid.UUID) (*Customer, error) {
	d.queries.Add(1)
	select {
	case <-time.After(d.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c, ok := d.customers[id]
	if !ok {
		return nil, errors.Newf("customer %s not found", id)
	}
	return c, nil
}

func (d *directory) ids() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(d.customers))
	for id := range d.customers {
		out = append(out, id)
	}
	return out
}

func newDemoCmd() *cobra.Command {
	var (
		latency     time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run memoized lookups and print what reached the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Metrics.Enabled = true

			reg := prometheus.NewRegistry()
			container, err := di.NewContainer(cfg, di.WithLogger(logger), di.WithRegisterer(reg))
			if err != nil {
				return err
			}
			defer container.Close()

			if err := runDemo(cmd.Context(), cmd.OutOrStdout(), container.Cache(), newDirectory(latency)); err != nil {
				return err
			}

			if metricsAddr == "" {
				return nil
			}
			return serveMetrics(cmd.Context(), logger, metricsAddr, reg)
		},
	}

	cmd.Flags().DurationVar(&latency, "latency", 50*time.Millisecond, "simulated backend latency")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address after the run")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, c *cache.Cacheable, dir *directory) error {
	customers, err := cache.Register(c, func(fields map[string]any) (*Customer, error) {
		raw, _ := fields["id"].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		name, _ := fields["name"].(string)
		joined, _ := fields["joined"].(time.Time)
		return &Customer{ID: id, Name: name, Joined: joined}, nil
	})
	if err != nil {
		return err
	}

	find, err := cache.EnableStatic(customers, "find", func(ctx context.Context, args ...any) (*Customer, error) {
		id, ok := args[0].(uuid.UUID)
		if !ok {
			return nil, errors.Newf("expected uuid, got %T", args[0])
		}
		return dir.find(ctx, id)
	}, cache.WithKey("{_model_}:find:{0}"), cache.WithTTL(time.Minute))
	if err != nil {
		return err
	}

	greeting, err := cache.EnableMethod(customers, "greeting", func(recv *Customer, ctx context.Context, args ...any) (string, error) {
		dir.queries.Add(1)
		return fmt.Sprintf("Hello %s, member since %s", recv.Name, recv.Joined.Format("2006-01-02")), nil
	})
	if err != nil {
		return err
	}

	for _, id := range dir.ids() {
		before := dir.queries.Load()
		start := time.Now()

		first, err := find.Call(ctx, id)
		if err != nil {
			return err
		}
		second, err := find.Call(ctx, id)
		if err != nil {
			return err
		}
		key, _ := find.Key(nil, id)

		fmt.Fprintf(out, "%-8s key=%s backend=%d elapsed=%s revived=%t\n",
			second.Name, key, dir.queries.Load()-before, time.Since(start).Round(time.Millisecond), second.ID == first.ID)

		msg, err := greeting.Call(ctx, second)
		if err != nil {
			return err
		}
		if _, err := greeting.Call(ctx, second); err != nil {
			return err
		}
		fmt.Fprintf(out, "         %s (cached under %v)\n", msg, customers.CacheKeys(second))

		if err := customers.ClearCache(ctx, second); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "backend queries: %d\n", dir.queries.Load())
	return nil
}

func serveMetrics(ctx context.Context, logger *zap.Logger, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
