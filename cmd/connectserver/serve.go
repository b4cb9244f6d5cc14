package main

import (
	"context"
	"fmt"
	"net"

	"connect-server/config"
	"connect-server/logger"
	"connect-server/middleware"
	"connect-server/server"
	"connect-server/serverlist"
)

// run serves until ctx ends, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, ln)
}

func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	log := logger.WithComponent("connectserver")

	static := cfg.StaticServers()
	list := serverlist.NewManager(static)

	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := openRegistry(cfg)
		if err != nil {
			ln.Close()
			return err
		}
		defer reg.Close()
		if err := list.Sync(ctx, reg, static); err != nil {
			ln.Close()
			return fmt.Errorf("loading game servers from registry: %w", err)
		}
	}
	log.Info().Int("servers", len(list.Servers())).Msg("server list ready")

	svr := server.NewServer(list,
		server.WithIdleTimeout(cfg.Server.IdleTimeout.Duration),
		server.WithLogger(logger.WithComponent("server")),
	)
	svr.Use(middleware.LoggingMiddleware(logger.WithComponent("handler")))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.HandlerTimeout.Duration > 0 {
		svr.Use(middleware.TimeoutMiddleware(cfg.Server.HandlerTimeout.Duration))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout.Duration); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return <-errCh
}
