package app

import (
	"fmt"
	"net"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"spacelink/auth"
	"spacelink/codec"
	"spacelink/config"
	"spacelink/features/alive"
	"spacelink/features/objects"
	"spacelink/features/session"
	"spacelink/middleware"
	"spacelink/server"
	"spacelink/transport"
)

func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accepts WebSocket peers and serves sessions and objects",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Address to listen for upgrades"},
			&cli.StringFlag{Name: "path", Usage: "HTTP path that accepts upgrades"},
			&cli.StringFlag{Name: "codec", Usage: "Payload codec for responses: binary or json"},
			&cli.StringFlag{Name: "registry", Usage: "Service registry: none, memory or etcd"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoint, repeatable"},
			&cli.StringFlag{Name: "advertise", Usage: "URL registered for clients, defaults to ws://<listen addr><path>"},
		},
		Action: func(ctx *cli.Context) error {
			cfg := *e.cfg
			applyServeFlags(ctx, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			svr, cleanup, err := buildServer(&cfg, e.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ln, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "listening on ws://%s%s\n", ln.Addr(), cfg.Server.Path)

			served := make(chan error, 1)
			go func() { served <- svr.Serve(ln) }()

			select {
			case err := <-served:
				return err
			case <-ctx.Context.Done():
			}
			e.logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
			if err := svr.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
				return err
			}
			return <-served
		},
	}
}

func applyServeFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet("listen") {
		cfg.Server.Listen = ctx.String("listen")
	}
	if ctx.IsSet("path") {
		cfg.Server.Path = ctx.String("path")
	}
	if ctx.IsSet("codec") {
		cfg.Server.Codec = ctx.String("codec")
	}
	if ctx.IsSet("registry") {
		cfg.Registry.Kind = ctx.String("registry")
	}
	if ctx.IsSet("etcd") {
		cfg.Registry.Endpoints = ctx.StringSlice("etcd")
	}
	if ctx.IsSet("advertise") {
		cfg.Server.AdvertiseAddr = ctx.String("advertise")
	}
}

// buildServer wires every feature module onto each accepted peer. All peers
// share one object store.
func buildServer(cfg *config.Config, logger *zap.Logger) (*server.Server, func(), error) {
	sc := cfg.Server
	payloadCodec, err := codec.ByName(sc.Codec)
	if err != nil {
		return nil, nil, err
	}
	reg, closeReg, err := openRegistry(cfg.Registry, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithPath(sc.Path),
		server.WithCodec(payloadCodec),
		server.WithTransportOptions(
			transport.WithPingInterval(sc.PingInterval),
			transport.WithWriteTimeout(sc.WriteTimeout),
			transport.WithReadLimit(sc.ReadLimit),
		),
	}
	if reg != nil {
		opts = append(opts, server.WithRegistry(reg, sc.ServiceName, sc.AdvertiseAddr, sc.Weight, cfg.Registry.TTL))
	}
	svr := server.NewServer(opts...)

	var authn auth.Authenticator = auth.AllowAll()
	if len(cfg.Auth.Tokens) > 0 {
		authn = auth.NewTokenTable(cfg.Auth.Tokens)
	}

	svr.Use(middleware.LoggingMiddleware(logger))
	if sc.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	}
	if cfg.Auth.PerRequest {
		svr.Use(middleware.AuthMiddleware(authn))
	}
	if sc.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(sc.HandlerTimeout))
	}
	// Innermost, so it also covers handlers the timeout runs on their own goroutine.
	svr.Use(middleware.RecoverMiddleware())

	store := objects.NewStore()
	svr.OnConnect(func(p *server.Peer) error {
		peerLog := logger.With(zap.String("peer", p.ID()))
		if _, err := alive.New(p.Conn, alive.WithLogger(peerLog)); err != nil {
			return err
		}
		if _, err := session.NewSpaceServer(p.Conn, session.WithAuthenticator(authn), session.WithLogger(peerLog)); err != nil {
			return err
		}
		return objects.Serve(p.Conn, store)
	})
	return svr, closeReg, nil
}
