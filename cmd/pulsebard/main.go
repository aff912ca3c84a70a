package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/modoterra/pulsebar/internal/buildinfo"
	"github.com/modoterra/pulsebar/pkg/config"
	"github.com/modoterra/pulsebar/pkg/daemon"
	"github.com/modoterra/pulsebar/pkg/state"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("pulsebard %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	flags := pflag.NewFlagSet("pulsebard", pflag.ExitOnError)
	configPath := flags.String("config", "", "config file")
	flags.String("socket", config.DefaultSocket, "server socket path, unless passed in by systemd")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsebard: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	d := daemon.New(daemon.Options{
		SocketPath: cfg.Socket,
		ReadBuffer: cfg.ReadBuffer,
		Activation: true,
	}, state.New(), logger)
	defer d.Shutdown()

	if err := d.Listen(); err != nil {
		logger.Error("listen failed", "err", err)
		os.Exit(1)
	}

	logger.Info("starting pulsebard", "version", buildinfo.Version)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		os.Exit(1)
	}
}
