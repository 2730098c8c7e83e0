package orch

import (
	"context"
	"strings"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/ui"
)

// Initialize replaces the current peer with a new one claiming hint.
func (o *Orchestrator) Initialize(ctx context.Context, hint string) error {
	id, err := parseHint(hint)
	if err != nil {
		return err
	}
	return o.do(ctx, func() { o.initialize(id) })
}

// RegenerateID starts over with a broker-assigned identifier.
func (o *Orchestrator) RegenerateID(ctx context.Context) error {
	return o.do(ctx, func() {
		o.initialize("")
		o.chat.AppendSystem("Generated new peer ID")
	})
}

// CopyID puts the current identifier on the clipboard.
func (o *Orchestrator) CopyID(ctx context.Context) error {
	return o.do(ctx, func() {
		if o.clipboard == nil {
			return
		}
		if err := o.clipboard(o.doc.Text(ui.RegionPeerID)); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("clipboard write failed")
			return
		}
		o.chat.AppendSystem("Peer ID copied to clipboard")
	})
}

func parseHint(hint string) (domain.PeerID, error) {
	if strings.TrimSpace(hint) == "" {
		return "", nil
	}
	return domain.ParsePeerID(hint)
}

func (o *Orchestrator) initialize(hint domain.PeerID) {
	if o.peer != nil {
		o.closeAsync(o.peer.Destroy)
		o.peer = nil
	}
	o.peerGen++
	gen := o.peerGen
	o.retry = nil

	o.status.Update("Connecting...", ui.KindNone)
	o.status.Indicator("Connecting", false)

	p, err := o.newPeer(hint)
	if err != nil {
		o.onPeerError(gen, err)
		return
	}
	o.peer = p
	p.OnOpen(func(id domain.PeerID) { o.post(func() { o.onPeerOpen(gen, id) }) })
	p.OnConnection(func(c core.DataConnection) { o.post(func() { o.onIncomingConnection(gen, c) }) })
	p.OnCall(func(c core.MediaConnection) { o.post(func() { o.onIncomingCall(gen, c) }) })
	p.OnError(func(err error) { o.post(func() { o.onPeerError(gen, err) }) })
	p.OnDisconnected(func() { o.post(func() { o.onPeerDisconnected(gen) }) })

	log.Info().Str("module", "orch").Str("hint", string(hint)).Msg("starting peer")
	o.spawn(func(ctx context.Context) func() {
		if err := p.Start(ctx); err != nil {
			return func() { o.onPeerError(gen, err) }
		}
		return nil
	})
}

func (o *Orchestrator) onPeerOpen(gen int, id domain.PeerID) {
	if gen != o.peerGen {
		return
	}
	o.id = id
	o.retry = nil
	o.doc.SetText(ui.RegionPeerID, string(id))
	o.doc.SetText(ui.RegionUserAvatar, id.Initial())
	o.status.Update("Ready to connect", ui.KindNone)
	o.status.Indicator("Online", true)
	log.Info().Str("module", "orch").Str("peer_id", string(id)).Msg("peer open")

	if o.stream == nil {
		o.bootstrapMicrophone()
	}
}

func (o *Orchestrator) bootstrapMicrophone() {
	perm := o.perm
	o.spawn(func(ctx context.Context) func() {
		s, err := perm.Bootstrap(ctx)
		if err != nil {
			return nil
		}
		return func() { o.adoptStream(s) }
	})
}

func (o *Orchestrator) adoptStream(s *media.Stream) {
	if s == nil || o.stream == s {
		return
	}
	o.stream = s
	s.Start(o.ctx)
	for _, t := range s.AudioTracks() {
		t.SetEnabled(!o.muted)
	}
}

func (o *Orchestrator) onPeerError(gen int, err error) {
	if gen != o.peerGen {
		return
	}
	log.Error().Err(err).Str("module", "orch").Msg("peer error")
	o.status.Update("Error: "+err.Error(), ui.KindError)
	o.status.Indicator("Error", false)
}

func (o *Orchestrator) onPeerDisconnected(gen int) {
	if gen != o.peerGen {
		return
	}
	o.status.Update("Disconnected. Trying to reconnect...", ui.KindNone)
	o.status.Indicator("Reconnecting", false)
	o.scheduleReconnect(gen)
}

// scheduleReconnect waits out the next backoff interval, or gives up once
// the attempts are spent. Zero attempts means never reconnect.
func (o *Orchestrator) scheduleReconnect(gen int) {
	if o.retry == nil && o.reconnectAttempts > 0 {
		b := backoff.NewExponentialBackOff()
		b.Clock = o.clock
		b.MaxElapsedTime = 0
		b.Reset()
		o.retry = backoff.WithMaxRetries(b, uint64(o.reconnectAttempts))
	}
	wait := backoff.Stop
	if o.retry != nil {
		wait = o.retry.NextBackOff()
	}
	if wait == backoff.Stop {
		log.Warn().Str("module", "orch").Msg("reconnect attempts exhausted")
		o.status.Update("Offline", ui.KindError)
		o.status.Indicator("Offline", false)
		return
	}
	log.Info().Str("module", "orch").Dur("wait", wait).Msg("scheduling reconnect")
	o.clock.AfterFunc(wait, func() { o.post(func() { o.reconnect(gen) }) })
}

func (o *Orchestrator) reconnect(gen int) {
	if gen != o.peerGen || o.peer == nil {
		return
	}
	p := o.peer
	o.spawn(func(ctx context.Context) func() {
		if err := p.Reconnect(ctx); err != nil {
			return func() {
				if gen != o.peerGen {
					return
				}
				log.Warn().Err(err).Str("module", "orch").Msg("reconnect failed")
				o.scheduleReconnect(gen)
			}
		}
		return nil
	})
}
