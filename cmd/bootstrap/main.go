package main

import (
	"context"
	"log"
	"time"

	"tutorias-backend-go/internal/app"
	"tutorias-backend-go/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	log.SetPrefix("[bootstrap] ")
	cfg, err := config.LoadBootstrap()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Bootstrap(ctx, cfg); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	log.Printf("schema up to date")
}
