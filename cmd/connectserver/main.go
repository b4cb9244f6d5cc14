// Command connectserver runs a ConnectServer and manages its etcd game-server directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"connect-server/config"
	"connect-server/logger"
	"connect-server/registry"
)

var configFlag string

func main() {
	rootCmd := serveCmd()
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "TOML config file")

	rootCmd.AddCommand(
		registerCmd(),
		deregisterCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

func openRegistry(cfg *config.Config) (*registry.EtcdRegistry, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return nil, errors.New("no registry endpoints configured (registry.endpoints or CONNECT_ETCD_ENDPOINTS)")
	}
	return registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix, cfg.Registry.DialTimeout.Duration, nil)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// serveCmd (root)
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "connectserver",
		Short:        "Serve the game-server list to clients",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return run(ctx, cfg)
		},
	}
}

// ---------------------------------------------------------------------------
// registerCmd
// ---------------------------------------------------------------------------

func registerCmd() *cobra.Command {
	var gs config.GameServerConfig
	cmd := &cobra.Command{
		Use:          "register",
		Short:        "Announce a game server in etcd and keep it alive until interrupted",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := signalContext()
			defer cancel()

			srv := gs.GameServer()
			if err := reg.Register(ctx, srv, cfg.Registry.TTL); err != nil {
				return fmt.Errorf("registering server %d: %w", srv.Code, err)
			}
			log.Info().Uint16("code", srv.Code).Str("addr", fmt.Sprintf("%s:%d", srv.IP, srv.Port)).
				Int64("ttl", cfg.Registry.TTL).Msg("game server registered")

			<-ctx.Done()

			// the lease would expire on its own; deleting now drops the entry at once
			dctx, dcancel := context.WithTimeout(context.Background(), cfg.Registry.DialTimeout.Duration)
			defer dcancel()
			if err := reg.Deregister(dctx, srv.Code); err != nil {
				return fmt.Errorf("deregistering server %d: %w", srv.Code, err)
			}
			log.Info().Uint16("code", srv.Code).Msg("game server deregistered")
			return nil
		},
	}
	cmd.Flags().Uint16Var(&gs.Code, "code", 0, "Server code")
	cmd.Flags().StringVar(&gs.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&gs.IP, "ip", "127.0.0.1", "IPv4 address clients connect to")
	cmd.Flags().Uint16Var(&gs.Port, "port", 55901, "Game server port")
	cmd.Flags().Uint8Var(&gs.Percent, "percent", 0, "Population percent shown in the list")
	cmd.Flags().BoolVar(&gs.Visible, "visible", true, "List the server as visible")
	return cmd
}

// ---------------------------------------------------------------------------
// deregisterCmd
// ---------------------------------------------------------------------------

func deregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "deregister <code>",
		Short:        "Remove a game server from etcd",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid server code %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Registry.DialTimeout.Duration)
			defer cancel()
			return reg.Deregister(ctx, uint16(code))
		},
	}
}
