// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/presence_fusion/internal/config"
	"github.com/relabs-tech/presence_fusion/internal/fusion"
	"github.com/relabs-tech/presence_fusion/internal/radar"
	"github.com/relabs-tech/presence_fusion/internal/settings"
	"github.com/relabs-tech/presence_fusion/internal/statusled"
	"github.com/relabs-tech/presence_fusion/internal/transport"
)

// RunSlave runs a remote link node: it samples its own radar front end,
// detects presence and motion locally and reports verdicts to the master,
// applying whatever commands the master broadcasts.
func RunSlave() error {
	cfg := config.Get()

	store := settings.NewFileStore(cfg.SettingsFile)

	slave := fusion.NewSlave(fusion.SlaveConfig{
		NodeID:         uint8(cfg.NodeID),
		Store:          store,
		ReportInterval: time.Duration(cfg.ReportInterval) * time.Millisecond,
	})

	led, err := statusled.Open(cfg.LEDPin)
	if err != nil {
		log.Printf("slave: status LED unavailable: %v", err)
	}
	defer led.Close()

	bus, err := transport.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDSlave,
		cfg.TopicCommand, cfg.TopicReport, slave.HandleFrame)
	if err != nil {
		return fmt.Errorf("slave: mqtt connect: %w", err)
	}
	defer bus.Close()

	src, mock, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("slave: open sample source: %w", err)
	}
	go runSampler(src, mock, func(s radar.Sample) {
		rep, ok := slave.Ingest(s)
		if !ok {
			return
		}
		if err := bus.Send(rep.Encode()); err != nil {
			log.Printf("slave: report send error: %v", err)
		}
	})

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	ledTicker := time.NewTicker(250 * time.Millisecond)
	defer ledTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("slave: node %d reporting to broker %s", cfg.NodeID, cfg.MQTTBroker)

	for {
		select {
		case <-ledTicker.C:
			occupied, moving, calibrating := slave.Status()
			led.Set(statusled.StateOf(occupied, moving, calibrating))
		case <-statusTicker.C:
			occupied, moving, calibrating := slave.Status()
			log.Printf("slave: occupied=%v moving=%v calibrating=%v", occupied, moving, calibrating)
		case s := <-sig:
			log.Printf("slave: received %v, shutting down", s)
			return nil
		}
	}
}
