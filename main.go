package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "terminsync/docs"
	"terminsync/internal/app"
	"terminsync/internal/config"
	"terminsync/internal/logging"
)

// @Title						Синхронизация терминов с партнером
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка конфигурации:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Ошибка запуска", "err", err)
		os.Exit(1)
	}
	if err := a.Serve(ctx); err != nil {
		log.Error("Ошибка сервера", "err", err)
		os.Exit(1)
	}
}
