// Command connectclient probes a ConnectServer by hand: it sends a server-list or server-info
// request and prints the bytes that went over the wire. It always exits 0; failures are
// printed, not signaled.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"connect-server/client"
	"connect-server/config"
	"connect-server/loadbalance"
	"connect-server/logger"
)

var (
	addrFlag    string
	timeoutFlag time.Duration
	configFlag  string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stdout, "Error: %v\n", err)
	}
}

// newRootCmd builds the command tree. Command errors are left to the caller to print.
func newRootCmd() *cobra.Command {
	rootCmd := serverListCmd()
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "ConnectServer address (default from config, then "+config.DefaultServerAddr+")")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "Bound on the whole exchange, 0 = config value")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "TOML config file")

	rootCmd.AddCommand(
		infoCmd(),
		benchCmd(),
	)
	return rootCmd
}

// loadConfig applies command-line flags over the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if addrFlag != "" {
		cfg.Client.Addr = addrFlag
		cfg.Client.Endpoints = nil
	}
	if timeoutFlag > 0 {
		cfg.Client.Timeout.Duration = timeoutFlag
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// serverListCmd (root)
// ---------------------------------------------------------------------------

func serverListCmd() *cobra.Command {
	var showEntries bool
	cmd := &cobra.Command{
		Use:           "connectclient",
		Short:         "Request the server list from a ConnectServer",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return nil
			}
			probe(out, cfg.Client.Addr, cfg.Client.Timeout.Duration, serverListExchange(showEntries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showEntries, "entries", false, "Decode the reply into server entries")
	return cmd
}

// ---------------------------------------------------------------------------
// infoCmd
// ---------------------------------------------------------------------------

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "info <code>",
		Short:         "Resolve one game server code to its address",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			code, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				fmt.Fprintf(out, "Error: invalid server code %q\n", args[0])
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return nil
			}
			probe(out, cfg.Client.Addr, cfg.Client.Timeout.Duration, serverInfoExchange(uint16(code)))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// benchCmd
// ---------------------------------------------------------------------------

func benchCmd() *cobra.Command {
	var (
		requests    int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:           "bench",
		Short:         "Send many server-list requests through the pooled client",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return nil
			}
			c, err := newClient(cfg)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return nil
			}
			defer c.Close()
			bench(cmd.Context(), out, c, requests, concurrency)
			return nil
		},
	}
	cmd.Flags().IntVarP(&requests, "requests", "n", 64, "Total requests")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 8, "Concurrent workers")
	return cmd
}

func newClient(cfg *config.Config) (*client.Client, error) {
	balancer, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, err
	}
	return client.NewClient(client.Config{
		Endpoints: cfg.ClientEndpoints(),
		Balancer:  balancer,
		PoolSize:  cfg.Client.PoolSize,
		MaxIdle:   cfg.Client.MaxIdle.Duration,
		Timeout:   cfg.Client.Timeout.Duration,
		Retry: client.RetryPolicy{
			MaxRetries: cfg.Client.MaxRetries,
			BaseDelay:  cfg.Client.RetryDelay.Duration,
		},
	})
}

// bench spreads requests over concurrency workers and prints a one-line summary plus a count
// per failure kind.
func bench(ctx context.Context, out io.Writer, c *client.Client, requests, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		next   int64
		ok     int64
		mu     sync.Mutex
		failed = make(map[client.Kind]int)
		wg     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.AddInt64(&next, 1) <= int64(requests) {
				if _, err := c.ServerList(ctx); err != nil {
					mu.Lock()
					failed[client.KindOf(err)]++
					mu.Unlock()
					continue
				}
				atomic.AddInt64(&ok, 1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(out, "%d/%d requests succeeded in %s\n", ok, requests, elapsed.Round(time.Millisecond))
	for kind, n := range failed {
		fmt.Fprintf(out, "  %s: %d\n", kind, n)
	}
}
