package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/raftkv/internal/config"
	"github.com/kartikbazzad/raftkv/internal/logger"
	"github.com/kartikbazzad/raftkv/internal/metrics"
	"github.com/kartikbazzad/raftkv/raft"
	"github.com/kartikbazzad/raftkv/transport"
)

// serveConfig holds the replica's environment-configurable settings,
// loaded with the RAFTKV_ prefix. Nesting mirrors config.Load's
// underscore-to-dot env key mapping: RAFTKV_LOG_LEVEL becomes log.level.
type serveConfig struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Metrics struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

var serveCmd = &cobra.Command{
	Use:   "serve <replica-id> <peer-id>...",
	Short: "Run one replica's event loop against the network substrate",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	id := args[0]
	peers := args[1:]

	// 1. Initialize logger.
	if os.Getenv("RAFTKV_LOG_LEVEL") == "" {
		os.Setenv("RAFTKV_LOG_LEVEL", "INFO")
	}
	if os.Getenv("RAFTKV_LOG_FORMAT") == "" {
		os.Setenv("RAFTKV_LOG_FORMAT", "json")
	}
	if os.Getenv("RAFTKV_METRICS_PORT") == "" {
		os.Setenv("RAFTKV_METRICS_PORT", "0")
	}

	var cfg serveConfig
	if err := config.Load("RAFTKV_", &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.Get().With("replica", id)
	log.Info("starting replica", "peers", peers)

	// 2. Dial the network substrate.
	stream, err := transport.Dial(id)
	if err != nil {
		return fmt.Errorf("dial substrate: %w", err)
	}
	stream.OnMalformedFrame(func(line []byte, ferr error) {
		log.Warn("dropping malformed frame", "error", ferr)
	})
	defer stream.Close()

	// 3. Wire up metrics, optionally serving them over HTTP.
	reg := prometheus.NewRegistry()
	coll := metrics.New(reg, id)
	if cfg.Metrics.Port != 0 {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("serving metrics", "addr", addr)
	}

	// 4. Run the event loop until interrupted or the substrate closes.
	node := raft.New(id, peers, stream, raft.DefaultConfig(), log, coll)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		close(stop)
	}()

	if err := node.Run(stop); err != nil {
		return fmt.Errorf("event loop stopped: %w", err)
	}
	return nil
}
