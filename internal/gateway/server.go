// Package gateway is the consumer-facing surface of the hub: a small HTTP
// server that streams a bot's updates to console clients over websocket and
// serves the chat-membership projection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botfleet/botfleet/internal/hub"
	"github.com/botfleet/botfleet/internal/reconcile"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Streams is the slice of the hub the gateway needs.
type Streams interface {
	Attach(ctx context.Context, credentialID string) (*hub.Subscription, error)
	Stats() []hub.Stats
}

// Chats serves the membership projection.
type Chats interface {
	Chats(credentialID string) ([]reconcile.Membership, error)
}

type Server struct {
	listen   string
	hub      Streams
	chats    Chats
	upgrader websocket.Upgrader
}

func NewServer(listen string, streams Streams, chats Chats) *Server {
	return &Server{
		listen: listen,
		hub:    streams,
		chats:  chats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The console fronts this service; origin policy lives there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table. Split from Start so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/pollers", s.handlePollers)
	mux.HandleFunc("GET /v1/tokens/{id}/updates", s.handleUpdates)
	mux.HandleFunc("GET /v1/tokens/{id}/chats", s.handleChats)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("gateway: listening", "addr", s.listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pollers": len(s.hub.Stats()),
	})
}

func (s *Server) handlePollers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	rows, err := s.chats.Chats(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// frame is one websocket message: the update envelope as JSON.
type frame struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	Update any    `json:"update"`
}

// handleUpdates attaches a subscription for the token and streams events
// until the client disconnects, the poller stops, or the hub shuts down.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.hub.Attach(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("gateway: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames only to detect disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	slog.Info("gateway: stream opened", "credential", id)
	defer slog.Info("gateway: stream closed", "credential", id)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				deadline := time.Now().Add(writeTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame{Seq: ev.Seq, Kind: ev.Kind, Update: ev.Update}); err != nil {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps hub errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrCredentialNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrCredentialInactive):
		status = http.StatusConflict
	case errors.Is(err, hub.ErrShutdown):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
