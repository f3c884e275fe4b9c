package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/presence_fusion/internal/app"
	"github.com/relabs-tech/presence_fusion/internal/config"
)

func main() {
	configPath := flag.String("config", "./presence_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting presence-fusion OLED display (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
