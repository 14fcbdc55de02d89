// Command cachedemo exercises the cacheable stack against a configurable store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-cacheable/cache"
	"github.com/goliatone/go-cacheable/pkg/di"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cachedemo",
		Short:         "Memoize functions and typed models on a shared store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("driver", "", "store driver override (memory, redis, memcache)")
	root.PersistentFlags().String("redis-addr", "", "redis address override")
	root.PersistentFlags().StringSlice("memcache", nil, "memcached servers override")

	root.AddCommand(newDemoCmd(), newResolveCmd())
	return root
}

func newResolveCmd() *cobra.Command {
	var fn string
	cmd := &cobra.Command{
		Use:   "resolve <template> [json-args...]",
		Short: "Resolve a key template against JSON encoded arguments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make([]any, 0, len(args)-1)
			for _, raw := range args[1:] {
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					v = raw
				}
				values = append(values, v)
			}

			resolver := cache.NewResolver(cache.NewTypeRegistry())
			key := resolver.Resolve(args[0], nil, fn, values)
			fmt.Fprintln(cmd.OutOrStdout(), key)
			if !cache.IsResolved(key) {
				fmt.Fprintln(cmd.ErrOrStderr(), "key is not fully resolved, calls would run uncached")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fn, "fn", "", "value of {_fn_}")
	return cmd
}

// loadConfig reads --config when set and applies the store overrides.
func loadConfig(cmd *cobra.Command) (di.Config, error) {
	cfg := di.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := di.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Store.Driver = driver
	}
	if addr, _ := cmd.Flags().GetString("redis-addr"); addr != "" {
		cfg.Store.RedisAddr = addr
	}
	if servers, _ := cmd.Flags().GetStringSlice("memcache"); len(servers) > 0 {
		cfg.Store.MemcacheServers = servers
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	level, err := zap.ParseAtomicLevel(raw)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	return cfg.Build()
}
