package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillbay/chatsync/internal/config"
	"github.com/skillbay/chatsync/internal/log"
	"github.com/skillbay/chatsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	bootstrap := log.New("info")
	cfg, path, err := config.Load(bootstrap, *configPath)
	if err != nil {
		bootstrap.Fatal().Err(err).Str("path", path).Msg("load config")
	}

	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init app")
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting chat server")
	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
