// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


// Package app wires the presence fusion components into runnable
// programs: the master fuses all links, the slave measures and reports
// one link, console and display render published state.
package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/presence_fusion/internal/config"
	"github.com/relabs-tech/presence_fusion/internal/fusion"
	"github.com/relabs-tech/presence_fusion/internal/settings"
	"github.com/relabs-tech/presence_fusion/internal/statusled"
	"github.com/relabs-tech/presence_fusion/internal/transport"
	"github.com/relabs-tech/presence_fusion/internal/wire"
)

// RunMaster runs the fusion master: it samples its own link, receives
// remote link reports over MQTT, fuses everything into a room verdict
// and serves it over HTTP, websocket and the status topic.
func RunMaster() error {
	cfg := config.Get()

	store := settings.NewFileStore(cfg.SettingsFile)
	hub := newWSHub()

	led, err := statusled.Open(cfg.LEDPin)
	if err != nil {
		log.Printf("master: status LED unavailable: %v", err)
	}
	defer led.Close()

	engine := fusion.New(fusion.Config{
		Links:               cfg.LinkCount,
		LivenessTimeout:     time.Duration(cfg.LivenessTimeout) * time.Millisecond,
		CalibrationDuration: time.Duration(cfg.CalibrationDuration) * time.Millisecond,
		Store:               store,
	})

	bus, err := transport.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDMaster,
		cfg.TopicReport, cfg.TopicCommand, func(frame []byte) {
			rep, err := wire.DecodeReport(frame)
			if err != nil {
				log.Printf("master: dropping frame: %v", err)
				return
			}
			engine.UpdateRemote(rep)
		})
	if err != nil {
		return fmt.Errorf("master: mqtt connect: %w", err)
	}
	defer bus.Close()

	engine.SetBroadcast(func(frame []byte) {
		if err := bus.Send(frame); err != nil {
			log.Printf("master: command send error: %v", err)
		}
	})

	engine.SetPublish(func(snap fusion.Snapshot) {
		led.Set(statusled.StateOf(snap.Occupied, snap.Moving, snap.Calibrating))
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("master: snapshot encode error: %v", err)
			return
		}
		hub.broadcast(payload)
		if err := bus.Publish(cfg.TopicStatus, payload); err != nil {
			log.Printf("master: status publish error: %v", err)
		}
	})

	src, mock, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("master: open sample source: %w", err)
	}
	go runSampler(src, mock, engine.IngestLocal)

	go func() {
		if err := runWebServer(engine, hub); err != nil {
			log.Fatalf("master: web server: %v", err)
		}
	}()

	// Drives liveness sweeps, calibration timeout and the status feed.
	publishTicker := time.NewTicker(time.Duration(cfg.PublishInterval) * time.Millisecond)
	defer publishTicker.Stop()

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("master: running with %d links, broker %s", cfg.LinkCount, cfg.MQTTBroker)

	for {
		select {
		case <-publishTicker.C:
			engine.Tick()
		case <-statusTicker.C:
			logStatus(engine.Snapshot())
		case s := <-sig:
			log.Printf("master: received %v, shutting down", s)
			return nil
		}
	}
}

func logStatus(snap fusion.Snapshot) {
	active := 0
	for _, l := range snap.Links {
		if l.Active {
			active++
		}
	}
	log.Printf("master: occupied=%v moving=%v calibrating=%v active_links=%d/%d",
		snap.Occupied, snap.Moving, snap.Calibrating, active, len(snap.Links))
}
