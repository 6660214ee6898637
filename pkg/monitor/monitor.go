// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package monitor exposes a node's diagnostic counters over HTTP and streams echo
// events to WebSocket clients.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Stats is the counter snapshot served under /status.
type Stats struct {
	Sessions        int    `json:"sessions"`
	DroppedFrames   uint64 `json:"droppedFrames"`
	Exchanges       int    `json:"exchanges"`
	DroppedMessages uint64 `json:"droppedMessages"`
	FaultedSessions uint64 `json:"faultedSessions"`
	UdcClients      int    `json:"udcClients"`
}

// EchoEvent is streamed to WebSocket clients for every observed echo request.
type EchoEvent struct {
	Time    time.Time `json:"time"`
	Length  int       `json:"length"`
	Payload []byte    `json:"payload"`
}

// Monitor serves Stats under /status and EchoEvents under /ws. It doubles as an echo
// RequestObserver.
type Monitor struct {
	router    *mux.Router
	server    *http.Server
	statsFunc func() Stats

	upgrader websocket.Upgrader

	clientsMutex sync.Mutex
	clients      map[*websocket.Conn]struct{}
}

// NewMonitor starts a Monitor's HTTP server on listenAddress. statsFunc is sampled per
// /status request.
func NewMonitor(listenAddress string, statsFunc func() Stats) *Monitor {
	monitor := &Monitor{
		router:    mux.NewRouter(),
		statsFunc: statsFunc,

		upgrader: websocket.Upgrader{},

		clients: make(map[*websocket.Conn]struct{}),
	}

	monitor.router.HandleFunc("/status", monitor.handleStatus).Methods(http.MethodGet)
	monitor.router.HandleFunc("/ws", monitor.handleWebSocket)

	monitor.server = &http.Server{
		Addr:    listenAddress,
		Handler: monitor.router,
	}

	go func() {
		if err := monitor.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("Monitor's HTTP server failed")
		}
	}()

	log.WithFields(log.Fields{
		"address": listenAddress,
	}).Info("Monitor is serving diagnostics")

	return monitor
}

// handleStatus processes /status GET requests.
func (monitor *Monitor) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(monitor.statsFunc()); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// handleWebSocket upgrades /ws requests and registers the client for EchoEvents.
func (monitor *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, connErr := monitor.upgrader.Upgrade(w, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	monitor.clientsMutex.Lock()
	monitor.clients[conn] = struct{}{}
	monitor.clientsMutex.Unlock()

	log.WithFields(log.Fields{
		"client": conn.RemoteAddr(),
	}).Info("Monitor registered a WebSocket client")
}

// EchoRequestReceived broadcasts one echo request to all WebSocket clients. Clients
// whose write fails are dropped.
func (monitor *Monitor) EchoRequestReceived(payload []byte) {
	event := EchoEvent{
		Time:    time.Now(),
		Length:  len(payload),
		Payload: payload,
	}

	monitor.clientsMutex.Lock()
	defer monitor.clientsMutex.Unlock()

	for conn := range monitor.clients {
		if err := conn.WriteJSON(event); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"client": conn.RemoteAddr(),
			}).Debug("Monitor drops a WebSocket client")

			_ = conn.Close()
			delete(monitor.clients, conn)
		}
	}
}

// Close shuts the HTTP server and all WebSocket clients down.
func (monitor *Monitor) Close() error {
	monitor.clientsMutex.Lock()
	for conn := range monitor.clients {
		_ = conn.Close()
	}
	monitor.clients = make(map[*websocket.Conn]struct{})
	monitor.clientsMutex.Unlock()

	return monitor.server.Close()
}
