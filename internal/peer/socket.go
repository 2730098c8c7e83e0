package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrBackpressure = errors.New("backpressure")

// socket is the broker link. Writes go through a buffered channel drained by
// writePump so callers never block on the network.
type socket struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn, send: make(chan []byte, 64)}
}

func (s *socket) TrySend(b []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDisconnected
	}
	select {
	case s.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
	s.mu.Unlock()
}

func (s *socket) writePump(ctx context.Context, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump delivers frames until the connection fails, then calls lost.
func (s *socket) readPump(logger zerolog.Logger, handle func([]byte), lost func()) {
	defer lost()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("readPump read error")
			return
		}
		handle(data)
	}
}
