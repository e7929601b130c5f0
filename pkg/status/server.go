/*
 * Copyright 2025 the IPCow Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package status serves a read-only JSON view of a running engine.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/Bit-Loop/IPcow/pkg/discovery"
	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

// Payload is the document returned by the status endpoint.
type Payload struct {
	Summary  models.Summary      `json:"summary"`
	Services []discovery.Service `json:"services"`
}

// Source yields the current state of a run. The engine satisfies this.
type Source interface {
	Snapshot() models.Summary
	Services() []discovery.Service
}

// Server exposes GET /api/status over plain HTTP.
type Server struct {
	source Source
	logger logger.Logger

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(addr string, source Source, log logger.Logger) *Server {
	s := &Server{
		source: source,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start binds the status listener and serves in the background. The bind is
// synchronous so a bad address fails fast.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.listener = ln

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Status endpoint listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status server stopped")
		}
	}()

	return nil
}

// Addr returns the bound listener address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := Payload{
		Summary:  s.source.Snapshot(),
		Services: s.source.Services(),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status payload")
	}
}
