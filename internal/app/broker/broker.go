// Package broker relays signaling frames between registered peers.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/app"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/proto"
)

type Broker struct {
	Registry *app.Registry
	Policy   app.Policy
	Clock    clock.Clock
}

func New(reg *app.Registry, policy app.Policy, clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.New()
	}
	return &Broker{Registry: reg, Policy: policy, Clock: clk}
}

// Relay forwards msg from src to msg.Dst with Src rewritten to the sender.
func (b *Broker) Relay(src domain.PeerID, msg *proto.Message) core.RelayResult {
	var res core.RelayResult
	dst, ok := b.Registry.GetSession(domain.PeerID(msg.Dst))
	if !ok {
		res.Expired = true
		log.Debug().Str("module", "broker").Str("src", string(src)).Str("dst", msg.Dst).Str("type", msg.Type).Msg("destination offline")
		return res
	}

	msg.Src = string(src)
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Msg("encode relayed frame")
		return res
	}
	if err := dst.Signal().TrySend(frame); err != nil {
		res.Dropped = dst
		if b.Policy == nil {
			return res
		}
		switch b.Policy.OnBackPressure(dst) {
		case app.KickPeer:
			log.Warn().Str("module", "broker").Str("peer_id", string(dst.ID())).Msg("kicking slow peer")
			b.Kick(dst.ID())
		case app.DropFrame, app.NoAction:
		}
		return res
	}
	res.Delivered = true
	return res
}

// Kick closes the signaling link of id and frees the identifier.
func (b *Broker) Kick(id domain.PeerID) {
	sess, ok := b.Registry.GetSession(id)
	if !ok {
		return
	}
	b.Registry.Cancel(id)
	b.Registry.Release(id, sess)
	sess.Signal().Close()
}

// Sweep kicks peers that have been silent longer than window.
func (b *Broker) Sweep(window time.Duration) []domain.PeerID {
	stale := b.Registry.Stale(window)
	for _, id := range stale {
		log.Info().Str("module", "broker").Str("peer_id", string(id)).Msg("expired silent peer")
		b.Kick(id)
	}
	return stale
}

// RunSweeper sweeps every window/2 until ctx ends.
func (b *Broker) RunSweeper(ctx context.Context, window time.Duration) {
	if window <= 0 {
		return
	}
	ticker := b.Clock.Ticker(window / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep(window)
		}
	}
}
