package main

import (
	"log"

	"github.com/relabs-tech/presence_fusion/internal/app"
	"github.com/relabs-tech/presence_fusion/internal/config"
)

func main() {
	log.Println("starting presence-fusion console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal("presence_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsole(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
