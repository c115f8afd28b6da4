package app

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"spacelink/client"
	"spacelink/codec"
	"spacelink/config"
	"spacelink/features/alive"
	"spacelink/loadbalance"
	"spacelink/message"
)

func pingCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Sends AliveCheck requests to a server and prints the round trip",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Server URL, e.g. ws://127.0.0.1:8080/ws"},
			&cli.StringFlag{Name: "service", Usage: "Service to discover when no url is given"},
			&cli.StringFlag{Name: "token", Usage: "Access token sent with each check"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 3, Usage: "Number of checks, 0 runs until interrupted"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "Delay between checks"},
		},
		Action: func(ctx *cli.Context) error {
			cfg := *e.cfg
			if ctx.IsSet("url") {
				cfg.Client.URL = ctx.String("url")
			}
			if ctx.IsSet("service") {
				cfg.Client.Service = ctx.String("service")
			}
			if ctx.IsSet("token") {
				cfg.Client.Token = ctx.String("token")
			}

			conn, err := dialServer(ctx.Context, &cfg, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Client.CallTimeout)
				defer cancel()
				conn.Close(closeCtx)
			}()

			checker, err := alive.New(conn.Connection, alive.WithLogger(e.logger))
			if err != nil {
				return err
			}
			var authz *message.AccessAuthorization
			if cfg.Client.Token != "" {
				authz = &message.AccessAuthorization{Token: cfg.Client.Token}
			}

			count, interval := ctx.Int("count"), ctx.Duration("interval")
			for i := 0; count == 0 || i < count; i++ {
				if i > 0 {
					select {
					case <-ctx.Context.Done():
						return nil
					case <-time.After(interval):
					}
				}
				callCtx, cancel := context.WithTimeout(ctx.Context, cfg.Client.CallTimeout)
				res, err := checker.Check(callCtx, authz)
				cancel()
				if err != nil {
					return fmt.Errorf("alive check %d: %w", i+1, err)
				}
				fmt.Fprintf(ctx.App.Writer, "%s: seq=%d peer_seq=%d rtt=%v\n", conn.Addr, res.Sequence, res.PeerSequence, res.RoundTrip)
			}
			return nil
		},
	}
}

// dialServer dials Client.URL, or discovers the service through the registry.
func dialServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*client.Conn, error) {
	cc := cfg.Client
	payloadCodec, err := codec.ByName(cc.Codec)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithCodec(payloadCodec),
		client.WithHandshakeTimeout(cc.HandshakeTimeout),
	}
	if cc.URL != "" {
		return client.Dial(ctx, cc.URL, opts...)
	}

	reg, closeReg, err := openRegistry(cfg.Registry, logger)
	if err != nil {
		return nil, err
	}
	defer closeReg()
	if reg == nil {
		return nil, fmt.Errorf("no url given and registry kind is %q", cfg.Registry.Kind)
	}
	bal, err := loadbalance.New(cc.Balancer)
	if err != nil {
		return nil, err
	}
	return client.NewClient(reg, bal, cc.Service, opts...).Dial(ctx, cc.Token)
}
