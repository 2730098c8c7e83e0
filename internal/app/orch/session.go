package orch

import (
	"time"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
)

// SignalingSession is the text channel to the current remote peer.
type SignalingSession struct {
	Remote domain.PeerID
	Conn   core.DataConnection
	Open   bool
}

type CallState int

const (
	CallIdle CallState = iota
	CallRingingOut
	CallRingingIn
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRingingOut:
		return "ringing-out"
	case CallRingingIn:
		return "ringing-in"
	case CallActive:
		return "active"
	}
	return "unknown"
}

// CallSession is the single call leg the client may hold.
type CallSession struct {
	Remote    domain.PeerID
	Conn      core.MediaConnection
	State     CallState
	StartedAt time.Time
}

// IncomingPolicy decides what happens to an inbound connection or call when
// one already exists.
type IncomingPolicy string

const (
	PolicyReplace IncomingPolicy = "replace"
	PolicyReject  IncomingPolicy = "reject"
)

// ParsePolicy falls back to def for unknown values.
func ParsePolicy(raw string, def IncomingPolicy) IncomingPolicy {
	switch IncomingPolicy(raw) {
	case PolicyReplace, PolicyReject:
		return IncomingPolicy(raw)
	}
	return def
}

// Snapshot is a read-only view of the orchestrator state.
type Snapshot struct {
	ID         domain.PeerID
	Remote     domain.PeerID
	ChatOpen   bool
	Call       CallState
	CallRemote domain.PeerID
	Elapsed    time.Duration
	HasStream  bool
	Muted      bool
}
