package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/memring/memring/internal/mcserver"
	"github.com/memring/memring/pkg/config"
)

func main() {
	cfg := config.LoadServerConfig()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting cache server on %s", cfg.Address())

	srv := mcserver.New(cfg.Address())
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down server...")
	srv.Stop()
	log.Println("Server stopped")
}
