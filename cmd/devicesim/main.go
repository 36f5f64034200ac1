// Command devicesim serves a simulated device API over a local directory,
// which stands in for the USB sticks: <root>/USB0, <root>/USB1.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/devicesim"
	"github.com/nesfrk81/ultimate64-sid-player/internal/logs"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:6464", "listen address")
		root     = flag.String("root", ".", "directory holding USB0 and USB1")
		delay    = flag.Duration("delay", 2*time.Second, "time a loader takes to copy a file")
		password = flag.String("password", "", "required X-Password header")
		jsonMem  = flag.Bool("json-memory", false, "answer readmem with hex JSON")
		maxRead  = flag.Int("max-read", 0, "cap on bytes per readmem (0 = none)")
		level    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logs.New(logs.Options{Level: *level, Writer: os.Stdout})

	dev := devicesim.New(devicesim.Options{
		Files:      os.DirFS(*root),
		Delay:      *delay,
		Password:   *password,
		JSONMemory: *jsonMem,
		MaxRead:    *maxRead,
		Log:        log,
	})
	defer dev.Close()

	srv := &http.Server{Addr: *addr, Handler: dev}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info("device simulator listening", "addr", *addr, "root", *root, "delay", delay.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
