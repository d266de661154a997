package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tutorias-backend-go/internal/app"
	"tutorias-backend-go/internal/config"
	"tutorias-backend-go/internal/logging"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cleanupLogs, err := logging.Setup(config.ServiceGateway, cfg.Logging)
	if err != nil {
		log.Printf("logger setup failed: %v", err)
	} else {
		defer cleanupLogs()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	process, err := app.Gateway(cfg)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	if err := app.Serve(ctx, process, nil); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}
