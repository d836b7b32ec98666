/*
 * Copyright 2025 The OverlayBridge Authors.
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

// Package api provides the HTTP control service for the bridge.
//
// The listener binds to the loopback interface only. Browser overlays and
// local tooling use it to read credentials, manage profile files under the
// scoped root, and trigger outbound OSC/MIDI sends through the capability
// registry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/overlaybridge/overlaybridge/pkg/logger"
	"github.com/overlaybridge/overlaybridge/pkg/midi"
	"github.com/overlaybridge/overlaybridge/pkg/models"
	"github.com/overlaybridge/overlaybridge/pkg/osc"
	"github.com/overlaybridge/overlaybridge/pkg/registry"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	// shutdownTimeout bounds the graceful drain on Stop; connections still
	// open after the bound are closed forcibly.
	shutdownTimeout = 1 * time.Second

	listenHost = "127.0.0.1"
)

// WSSProvider supplies the current websocket-credentials triple.
type WSSProvider interface {
	Details() models.WSSDetails
}

// SurfaceAttacher subscribes an HTTP request to a named rendering surface.
type SurfaceAttacher interface {
	Attach(surface string, w http.ResponseWriter, r *http.Request)
}

// Server is the HTTP control service.
type Server struct {
	router   *mux.Router
	registry *registry.Registry
	files    *FileStore
	wss      WSSProvider
	hub      SurfaceAttacher
	reload   func() error
	health   func() map[string]string
	log      zerolog.Logger

	mu   sync.Mutex
	srv  *http.Server
	done chan struct{}
}

func NewServer(files *FileStore, reg *registry.Registry, log logger.Logger, options ...func(*Server)) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: reg,
		files:    files,
		log:      log.WithComponent("api"),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithWSSProvider wires the credentials store behind /api/obswss.
func WithWSSProvider(p WSSProvider) func(*Server) {
	return func(s *Server) {
		s.wss = p
	}
}

// WithSurfaceAttacher wires the overlay attach point behind /ws/{surface}.
func WithSurfaceAttacher(a SurfaceAttacher) func(*Server) {
	return func(s *Server) {
		s.hub = a
	}
}

// WithReloadFunc wires the configuration reload trigger.
func WithReloadFunc(reload func() error) func(*Server) {
	return func(s *Server) {
		s.reload = reload
	}
}

// WithHealthProvider wires the per-service state snapshot for /api/health.
func WithHealthProvider(health func() map[string]string) func(*Server) {
	return func(s *Server) {
		s.health = health
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(commonMiddleware(s.log))

	apiRouter := s.router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/obswss", s.getOBSWSS).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/file/list", s.listFiles).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/file/get", s.getFile).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/file/save", s.saveFile).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/osc/send", s.sendOSC).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/midi/send", s.sendMIDI).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/bridges/{name}/targets", s.getTargets).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/config/reload", s.reloadConfig).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/health", s.getHealth).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/ws/{surface}", s.attachSurface).Methods(http.MethodGet)

	// Static fallback serving the scoped root, as overlays load their
	// assets from the same origin as the API.
	s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.files.Root()))).Methods(http.MethodGet, http.MethodOptions)
}

// Start binds the loopback listener and serves until Stop. A running server
// is stopped first, so Start doubles as restart; the explicit Listen makes
// bind failures synchronous and leaves SO_REUSEADDR in effect for immediate
// rebinds across restarts.
func (s *Server) Start(port int) error {
	s.Stop()

	addr := net.JoinHostPort(listenHost, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("failed to bind HTTP listener")
		return err
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.srv = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)

		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.log.Error().Err(serveErr).Msg("HTTP server exited")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("HTTP server started")

	return nil
}

// Stop drains the server with a bounded wait and closes the listener. Safe
// to call in any state.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	done := s.done
	s.srv = nil
	s.done = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		// Drain deadline passed; close the remaining connections.
		_ = srv.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			s.log.Warn().Msg("HTTP server did not exit in time; abandoning")
		}
	}

	s.log.Info().Msg("HTTP server stopped")
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) getOBSWSS(w http.ResponseWriter, _ *http.Request) {
	if s.wss == nil {
		s.writeError(w, "credentials not configured", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, s.wss.Details(), http.StatusOK)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		s.writeError(w, "Missing folder parameter", http.StatusBadRequest)
		return
	}

	names, err := s.files.List(folder)
	if err != nil {
		s.writeFileError(w, err)
		return
	}

	s.writeJSON(w, names, http.StatusOK)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	filename := r.URL.Query().Get("filename")

	if folder == "" || filename == "" {
		s.writeError(w, "Missing folder or filename parameter", http.StatusBadRequest)
		return
	}

	data, err := s.files.Read(folder, filename)
	if err != nil {
		s.writeFileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		s.log.Error().Err(err).Msg("error writing file response")
	}
}

type saveFileRequest struct {
	Folder   string          `json:"folder"`
	Filename string          `json:"filename"`
	Data     json.RawMessage `json:"data"`
}

func (s *Server) saveFile(w http.ResponseWriter, r *http.Request) {
	var req saveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Folder == "" || req.Filename == "" || len(req.Data) == 0 {
		s.writeError(w, "Missing folder, filename, or data", http.StatusBadRequest)
		return
	}

	var data interface{}
	if err := json.Unmarshal(req.Data, &data); err != nil {
		s.writeError(w, "data is not valid JSON", http.StatusBadRequest)
		return
	}

	path, err := s.files.Save(req.Folder, req.Filename, data)
	if err != nil {
		s.writeFileError(w, err)
		return
	}

	s.writeJSON(w, models.SaveResponse{Success: true, Path: path}, http.StatusOK)
}

type sendOSCRequest struct {
	EventName string        `json:"event_name"`
	Address   string        `json:"address"`
	Args      []interface{} `json:"args"`
}

func (s *Server) sendOSC(w http.ResponseWriter, r *http.Request) {
	var req sendOSCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.EventName == "" || req.Address == "" {
		s.writeError(w, "Missing OSC address or event_name", http.StatusBadRequest)
		return
	}

	result := s.registry.Invoke(osc.CapabilityName, req.EventName, osc.Message{
		Address: req.Address,
		Args:    req.Args,
	})

	s.writeInvokeResult(w, "OSC", req.EventName, result)
}

type sendMIDIRequest struct {
	EventName string      `json:"event_name"`
	Data      interface{} `json:"data"`
}

func (s *Server) sendMIDI(w http.ResponseWriter, r *http.Request) {
	var req sendMIDIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.EventName == "" || req.Data == nil {
		s.writeError(w, "Missing MIDI data or event_name", http.StatusBadRequest)
		return
	}

	result := s.registry.Invoke(midi.CapabilityName, req.EventName, req.Data)

	s.writeInvokeResult(w, "MIDI", req.EventName, result)
}

// writeInvokeResult maps the registry's tri-state outcome onto HTTP: the
// capability being absent is a 503 distinct from the 404 of an unknown
// event name; a completed send reports its transport outcome in the body.
func (s *Server) writeInvokeResult(w http.ResponseWriter, bridge, eventName string, result registry.Result) {
	switch result.Status {
	case registry.StatusNotRegistered:
		s.writeError(w, bridge+" bridge not loaded or registered", http.StatusServiceUnavailable)
	case registry.StatusTargetNotFound:
		s.writeError(w, "Target with event_name '"+eventName+"' not found", http.StatusNotFound)
	case registry.StatusDelivered:
		if result.Err != nil {
			s.log.Warn().Err(result.Err).Str("event", eventName).Msg("send completed with transport error")
		}

		s.writeJSON(w, models.SendResponse{Success: result.OK}, http.StatusOK)
	}
}

func (s *Server) getTargets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	targets := s.registry.Targets(name)
	if targets == nil {
		s.writeError(w, "bridge '"+name+"' not registered", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, targets, http.StatusOK)
}

func (s *Server) reloadConfig(w http.ResponseWriter, _ *http.Request) {
	if s.reload == nil {
		s.writeError(w, "reload not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.reload(); err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, models.SendResponse{Success: true}, http.StatusOK)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	services := map[string]string{}
	if s.health != nil {
		services = s.health()
	}

	s.writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"services": services,
	}, http.StatusOK)
}

func (s *Server) attachSurface(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, "no dispatch target available", http.StatusNotFound)
		return
	}

	s.hub.Attach(mux.Vars(r)["surface"], w, r)
}

func (s *Server) writeFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPathEscape):
		s.writeError(w, "Access denied: path outside root", http.StatusForbidden)
	case errors.Is(err, ErrFileNotFound):
		s.writeError(w, "File not found", http.StatusNotFound)
	default:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("error encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Error: message}); err != nil {
		s.log.Error().Err(err).Msg("error encoding error response")
	}
}
