// ABOUTME: Entry point for the reference access point server
// ABOUTME: Loads the YAML config, serves websocket peers and optionally advertises over mDNS
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thalhammer/libspotify-embedded/internal/config"
	"github.com/Thalhammer/libspotify-embedded/internal/logging"
	"github.com/Thalhammer/libspotify-embedded/pkg/accesspoint"
	"github.com/Thalhammer/libspotify-embedded/pkg/discovery"
)

var configPath = flag.String("config", "ap.yaml", "Access point config file")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ap-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAccessPoint(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := accesspoint.NewServer(accesspoint.ServerConfig{
		Port:    cfg.Port,
		Path:    cfg.Path,
		Metrics: cfg.Metrics,
		Service: svc,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if cfg.Advertise {
		ann, err := discovery.NewAnnouncer(discovery.Config{
			Name:    cfg.Name,
			Port:    cfg.Port,
			Service: discovery.AccessPointService,
			Path:    cfg.Path,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		defer ann.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	return srv.Start()
}
