package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/proto"
)

func (ctl *SignalWSController) handleRelay(sess core.PeerSession, conn *WsSignalConn, msg *proto.Message) {
	id := sess.ID()
	ctl.Broker.Registry.Touch(id)

	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("peer_id", string(id)).Msg("rate limited")
		ctl.sendJSON(conn, proto.NewError("rate limit exceeded"))
		return
	}
	if msg.Dst == "" {
		ctl.sendJSON(conn, proto.NewError("missing destination"))
		return
	}

	res := ctl.Broker.Relay(id, msg)
	if !res.Expired {
		return
	}
	// Only the opening frames tell the sender; stray candidates and closes
	// for a departed peer are dropped.
	switch msg.Type {
	case proto.TypeOffer, proto.TypeAnswer:
		ctl.sendJSON(conn, proto.Message{Type: proto.TypeExpire, Src: msg.Dst})
	}
}
