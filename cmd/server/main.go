package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomcast/internal/api"
	"github.com/npezzotti/go-roomcast/internal/config"
	"github.com/npezzotti/go-roomcast/internal/server"
	"github.com/npezzotti/go-roomcast/internal/stats"
)

var (
	configPath string
	envFile    string
	addr       string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flag.StringVar(&addr, "addr", "", "server address, overrides config")
	flag.Parse()

	logger := log.New(os.Stderr, "[roomcast] ", log.LstdFlags)

	if err := config.LoadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("env file:", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	broadcaster, err := server.NewBroadcaster(logger, statsUpdater, server.Options{
		StaleThreshold:  cfg.StaleThreshold,
		SweepInterval:   cfg.SweepInterval,
		IdleRoomTimeout: cfg.IdleRoomTimeout,
		StaleByJoin:     cfg.StaleByJoin,
		Debug:           cfg.Debug,
	})
	if err != nil {
		logger.Fatal("new broadcaster:", err)
	}

	srv := api.NewRoomcastApp(mux, logger, broadcaster, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	rooms, conns := broadcaster.Stats()
	logger.Printf("closing %d rooms with %d connections...", rooms, conns)
	if err := broadcaster.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("broadcaster shutdown:", err)
	}

	logger.Println("shutdown complete")
}
