package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/nesfrk81/ultimate64-sid-player/internal/api"
	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/config"
	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
	"github.com/nesfrk81/ultimate64-sid-player/internal/loader"
	"github.com/nesfrk81/ultimate64-sid-player/internal/logs"
	"github.com/nesfrk81/ultimate64-sid-player/internal/pipeline"
	"github.com/nesfrk81/ultimate64-sid-player/internal/player"
	"github.com/nesfrk81/ultimate64-sid-player/internal/ultimate"
)

func main() {
	cfg := config.Load()
	log := logs.New(logs.Options{Level: cfg.LogLevel, Journal: cfg.LogJournal, Writer: os.Stdout})

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the device client.
	dev := ultimate.NewClient(cfg.DeviceURL, cfg.DevicePassword, cfg.HTTPTimeout)
	ex := extract.NewExtractor(dev, basic.NewTokenTable(), extractOptions(cfg), log)

	// Initialize pipeline and player.
	orch := pipeline.NewOrchestrator(cfg, ex, log)
	orch.Start(ctx)
	pl := player.New(dev, log)

	// Initialize HTTP server.
	srv := api.NewServer(ctx, orch, ex, pl, log, cfg)

	httpServer := &http.Server{
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		log.Error("listen", "error", err)
		os.Exit(1)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := pl.Stop(shutdownCtx); err != nil {
			log.Warn("stop playback", "error", err)
		}
		httpServer.Shutdown(shutdownCtx)

		dev.Close()
	}()

	log.Info("starting sid player", "port", cfg.Port, "device", cfg.DeviceURL, "max_conns", cfg.MaxConns)
	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// extractOptions places the window at the configured base with the count
// cells just below it.
func extractOptions(cfg config.Config) extract.Options {
	opts := extract.DefaultOptions()
	opts.Window = loader.Window{
		Base:      cfg.WindowBase,
		CountCell: cfg.WindowBase - 2,
		Limit:     uint16(min(int(cfg.WindowBase)+config.WindowSize, 0xFFFF)),
	}
	opts.Drives = loader.DriveTable{
		{Prefix: "/USB0", Unit: cfg.DriveUSB0},
		{Prefix: "/USB1", Unit: cfg.DriveUSB1},
	}
	opts.Wait = cfg.ExtractWait
	opts.ChunkSize = cfg.ReadChunkSize
	opts.MaxChunks = cfg.MaxChunks
	opts.ResetFirst = cfg.ResetFirst
	opts.ResetSettle = cfg.ResetSettle
	return opts
}
