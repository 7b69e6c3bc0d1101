// Package federation parses federation service flags and launches the service.
package federation

import (
	"context"
	"flag"

	entrypoint "github.com/flowdeck/flowdeck/internal/platform/cmd"
	server "github.com/flowdeck/flowdeck/internal/services/federation/app"
)

// Config holds federation command configuration.
type Config struct {
	Port int `env:"FLOWDECK_FEDERATION_PORT" envDefault:"8085"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The federation HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the federation HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceFederation, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
