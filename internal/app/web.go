// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/tracking"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// streamBuffer is how many state updates a slow websocket client may lag behind.
	streamBuffer = 8
)

//go:embed static
var staticFiles embed.FS

// Facade is what the web surface needs from the controller.
type Facade interface {
	State() tracking.State
	Start(ctx context.Context) error
	Stop()
	Toggle(ctx context.Context) (bool, error)
	Observe(fn tracking.Observer) (cancel func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same agent on a local network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Web serves the control API, the state stream and the status page.
type Web struct {
	ctl     Facade
	metrics http.Handler
	log     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWeb returns the web surface for ctl. metrics may be nil.
func NewWeb(ctl Facade, metrics http.Handler, log *zap.Logger) *Web {
	if log == nil {
		log = zap.NewNop()
	}
	return &Web{ctl: ctl, metrics: metrics, log: log, done: make(chan struct{})}
}

// Close ends all open state streams. http.Server.Shutdown does not close
// hijacked connections, so register it with RegisterOnShutdown.
func (wb *Web) Close() {
	wb.closeOnce.Do(func() { close(wb.done) })
}

// Router builds the HTTP routes.
func (wb *Web) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(wb.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", wb.getState)
		r.Post("/start", wb.start)
		r.Post("/stop", wb.stop)
		r.Post("/toggle", wb.toggle)
	})
	r.Get("/ws", wb.stream)
	if wb.metrics != nil {
		r.Method(http.MethodGet, "/metrics", wb.metrics)
	}

	static, _ := fs.Sub(staticFiles, "static")
	r.Handle("/*", http.FileServer(http.FS(static)))
	return r
}

func (wb *Web) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		wb.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (wb *Web) getState(w http.ResponseWriter, _ *http.Request) {
	wb.writeJSON(w, http.StatusOK, wb.ctl.State())
}

func (wb *Web) start(w http.ResponseWriter, r *http.Request) {
	if err := wb.ctl.Start(r.Context()); err != nil {
		wb.log.Warn("Could not start tracking", zap.Error(err))
		wb.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, wb.ctl.State())
}

func (wb *Web) stop(w http.ResponseWriter, _ *http.Request) {
	wb.ctl.Stop()
	wb.writeJSON(w, http.StatusOK, wb.ctl.State())
}

func (wb *Web) toggle(w http.ResponseWriter, r *http.Request) {
	if _, err := wb.ctl.Toggle(r.Context()); err != nil {
		wb.log.Warn("Could not toggle tracking", zap.Error(err))
		wb.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, wb.ctl.State())
}

// streamState is the message pushed on /ws. Observers fire only when the
// running flag or the last known position changes, so the transient
// publishing and pending flags are left to GET /api/state.
type streamState struct {
	Running   bool          `json:"running"`
	LastKnown *gps.Position `json:"last_known"`
}

func newStreamState(st tracking.State) streamState {
	return streamState{Running: st.Running, LastKnown: st.LastKnown}
}

// stream pushes a message on connect and after every running or position change.
func (wb *Web) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		wb.log.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	updates := make(chan streamState, streamBuffer)
	cancel := wb.ctl.Observe(func(st tracking.State) { offerLatest(updates, newStreamState(st)) })
	defer cancel()

	// The reader only handles control frames and notices the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case st := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				wb.log.Debug("Websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-wb.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// offerLatest queues st without blocking, discarding the oldest queued state
// when the client is behind. Observers run one at a time, so there is a
// single producer.
func offerLatest(ch chan streamState, st streamState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (wb *Web) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		wb.log.Warn("JSON encode error", zap.Error(err))
	}
}

func (wb *Web) writeError(w http.ResponseWriter, status int, err error) {
	wb.writeJSON(w, status, map[string]string{"error": err.Error()})
}
