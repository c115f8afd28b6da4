// Package app is the spacelink command line.
package app

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"spacelink/config"
	"spacelink/internal/logging"
	"spacelink/registry"
)

// env holds what Before prepares for the commands.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func Instance() *cli.App {
	var (
		configPath string
		logLevel   string
		e          = &env{}
	)
	return &cli.App{
		Name:  "spacelink",
		Usage: "Bidirectional RPC over WebSocket",
		Commands: []*cli.Command{
			serveCmd(e),
			pingCmd(e),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to a YAML config file",
				EnvVars:     []string{"SPACELINK_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"SPACELINK_LOG_LEVEL"},
				Destination: &logLevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
		After: func(ctx *cli.Context) error {
			if e.logger != nil {
				e.logger.Sync()
			}
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	return Instance().RunContext(ctx, args)
}

// openRegistry returns nil when discovery is disabled. The returned close
// function is always safe to call.
func openRegistry(cfg config.RegistryConfig, logger *zap.Logger) (registry.Registry, func(), error) {
	switch cfg.Kind {
	case "memory":
		return registry.NewMemoryRegistry(), func() {}, nil
	case "etcd":
		dial := cfg.DialTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		reg, err := registry.NewEtcdRegistry(cfg.Endpoints, dial,
			registry.WithPrefix(cfg.Prefix), registry.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return reg, func() { reg.Close() }, nil
	}
	return nil, func() {}, nil
}
