package signal

import "github.com/dkeye/peerline/internal/core"

func (ctl *SignalWSController) handleHeartbeat(sess core.PeerSession) {
	ctl.Broker.Registry.Touch(sess.ID())
}
