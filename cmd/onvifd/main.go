// Command onvifd serves the ONVIF device, events and deviceio services for
// an alarm I/O device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SridarDhandapani/onvifd/internal/config"
	"github.com/SridarDhandapani/onvifd/internal/logger"
	"github.com/SridarDhandapani/onvifd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (JSON, YAML or TOML)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "onvifd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}

	log.Info().
		Int("port", cfg.ServicePort).
		Bool("auth", cfg.Username != "").
		Str("user", cfg.Username).
		Str("password", logger.MaskSecret(cfg.Password)).
		Msg("Starting onvifd")

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}
