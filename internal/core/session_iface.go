package core

import (
	"time"

	"github.com/dkeye/peerline/internal/domain"
)

// SessionID is the client token carried in the broker's cookie.
type SessionID string

// PeerSession binds a claimed peer identifier to its signaling endpoint.
// This is what the broker registry stores and relays to.
type PeerSession interface {
	ID() domain.PeerID
	Token() SessionID
	Signal() SignalConnection
	Since() time.Time
}

// PeerDTO is a read-only view for APIs (no transport fields).
type PeerDTO struct {
	ID    domain.PeerID `json:"id"`
	Since time.Time     `json:"since"`
}

// RelayResult reports delivery of one relayed frame to the broker.
type RelayResult struct {
	Delivered bool
	Expired   bool
	Dropped   PeerSession
}
