package app

import "github.com/dkeye/peerline/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose send buffer is full.
type Policy interface {
	OnBackPressure(dst core.PeerSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(dst core.PeerSession) BackpressureAction {
	return KickPeer
}
