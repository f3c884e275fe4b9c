package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/presence_fusion/internal/config"
	"github.com/relabs-tech/presence_fusion/internal/fusion"
)

// RunConsole subscribes to the master's status topic and prints the
// fused room state plus a per-link breakdown.
func RunConsole() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var snap fusion.Snapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[FUSED] occupied=%-5v moving=%-5v calibrating=%-5v wander_th=%.6f jitter_th=%.6f\n",
			snap.Occupied, snap.Moving, snap.Calibrating, snap.WanderThreshold, snap.JitterThreshold,
		)
		for i, l := range snap.Links {
			fmt.Printf(
				"[LINK%d] active=%-5v occupied=%-5v moving=%-5v wander=%.6f jitter=%.6f rssi=%d\n",
				i, l.Active, l.Occupied, l.Moving, l.Wander, l.Jitter, l.RSSI,
			)
		}
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
