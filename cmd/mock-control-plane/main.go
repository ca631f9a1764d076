package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/orion-deck/orion-deck/test/mockcontrolplane"
)

func main() {
	addr := flag.String("addr", ":5000", "Server address")
	seed := flag.Bool("seed", true, "Seed default nodes and an admin/admin account")
	flag.Parse()

	state := mockcontrolplane.NewState()
	if *seed {
		state.SeedDefaults()
	}
	server := mockcontrolplane.NewServer(state)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock control plane...")
		os.Exit(0)
	}()

	log.Printf("Starting mock control plane on %s", *addr)
	if err := server.Run(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
