package core

import (
	"time"

	"github.com/dkeye/peerline/internal/domain"
)

// peerSession implements PeerSession by pairing identity + transport.
type peerSession struct {
	id     domain.PeerID
	token  SessionID
	signal SignalConnection
	since  time.Time
}

func NewPeerSession(id domain.PeerID, token SessionID, signal SignalConnection) PeerSession {
	return &peerSession{id: id, token: token, signal: signal, since: time.Now()}
}

func (s *peerSession) ID() domain.PeerID        { return s.id }
func (s *peerSession) Token() SessionID         { return s.token }
func (s *peerSession) Signal() SignalConnection { return s.signal }
func (s *peerSession) Since() time.Time         { return s.since }
