package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession represents a connected driver or rider.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

// WSRegistry holds one session per address. It publishes every escrow event
// to the sessions of the event's participants.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[models.Address]*WSSession
	log      *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WSRegistry{sessions: make(map[models.Address]*WSSession), log: log}
}

// Add registers conn for addr, closing any session it replaces.
func (r *WSRegistry) Add(addr models.Address, conn *websocket.Conn) {
	r.mu.Lock()
	old, replaced := r.sessions[addr]
	r.sessions[addr] = &WSSession{conn: conn}
	r.mu.Unlock()
	if replaced {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.Inc()
	}
}

// Remove drops the session for addr if it still belongs to conn.
func (r *WSRegistry) Remove(addr models.Address, conn *websocket.Conn) {
	r.mu.Lock()
	s, ok := r.sessions[addr]
	if ok && s.conn == conn {
		delete(r.sessions, addr)
	}
	r.mu.Unlock()
	if ok && s.conn == conn {
		observability.WSConnections.Dec()
		_ = conn.Close()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Send(addr models.Address, e models.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[addr]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(e); err != nil {
		r.log.Warn("ws send error", "address", addr.String(), "error", err)
		r.Remove(addr, s.conn)
		return err
	}
	return nil
}

// Publish pushes e to every connected participant. Offline participants are
// skipped; write failures drop the session and are not reported.
func (r *WSRegistry) Publish(_ context.Context, e models.Event) error {
	for _, addr := range e.Participants() {
		_ = r.Send(addr, e)
	}
	return nil
}
