// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/presence_fusion/internal/config"
	"github.com/relabs-tech/presence_fusion/internal/fusion"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsHub tracks connected status subscribers and fans snapshots out to them.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]bool)}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	log.Printf("web: websocket client connected (%s)", c.RemoteAddr())
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

// broadcast pushes a payload to every client, dropping clients whose
// writes fail.
func (h *wsHub) broadcast(payload []byte) {
	h.mu.Lock()
	var dead []*websocket.Conn
	for c := range h.conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		delete(h.conns, c)
		c.Close()
	}
	h.mu.Unlock()
}

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	h.add(conn)

	// Drain the connection; clients only listen, but the read loop is
	// what notices a disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

type calibrateRequest struct {
	Action string `json:"action"` // start, stop
}

type sensitivityRequest struct {
	Link       int     `json:"link"`
	WanderSens float64 `json:"wander_sens"`
	JitterSens float64 `json:"jitter_sens"`
}

type thresholdsRequest struct {
	WanderThreshold float64 `json:"wander_th"`
	JitterThreshold float64 `json:"jitter_th"`
}

// newWebMux builds the master's HTTP surface: status JSON, calibration and
// tuning endpoints, the live websocket feed, and the static UI.
func newWebMux(engine *fusion.Engine, hub *wsHub, staticDir string, calibrationSeconds int) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Snapshot()); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req calibrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch req.Action {
		case "start":
			engine.StartCalibration()
			json.NewEncoder(w).Encode(map[string]any{
				"status":   "calibrating",
				"duration": calibrationSeconds,
			})
		case "stop":
			th, _ := engine.StopCalibration()
			json.NewEncoder(w).Encode(map[string]any{
				"status":    "done",
				"wander_th": th.Wander,
				"jitter_th": th.Jitter,
			})
		default:
			http.Error(w, "invalid action", http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/api/sensitivity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req sensitivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := engine.SetSensitivity(req.Link, req.WanderSens, req.JitterSens); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(req)
	})

	mux.HandleFunc("/api/thresholds", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req thresholdsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		engine.SetThresholds(req.WanderThreshold, req.JitterThreshold)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(req)
	})

	mux.HandleFunc("/ws", hub.handleWS)

	// Static files (dashboard) as the root
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))

	return mux
}

func runWebServer(engine *fusion.Engine, hub *wsHub) error {
	cfg := config.Get()
	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, newWebMux(engine, hub, cfg.WebStaticDir, cfg.CalibrationDuration/1000))
}
