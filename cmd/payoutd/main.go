package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("PAYOUT_CONFIG")
	if configPath == "" {
		configPath = "configs/default.yaml"
	}
	runtime, err := NewRuntime(ctx, configPath)
	if err != nil {
		log.Fatalf("bootstrap payout runtime: %v", err)
	}
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("run payout service: %v", err)
	}
}
