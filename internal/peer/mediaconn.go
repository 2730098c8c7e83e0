package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peerline/internal/adapters/rtc"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/proto"
)

// MediaConn is one call leg. Inbound calls hold the offer until Answer.
type MediaConn struct {
	peer   *Peer
	id     string
	remote domain.PeerID
	logger zerolog.Logger

	mu       sync.Mutex
	pc       *rtc.WebRTCConnection
	offer    *webrtc.SessionDescription
	queued   []webrtc.ICECandidateInit
	answered bool
	closed   bool

	onStream func(media.RemoteStream)
	onClose  func()
	onError  func(error)
}

var _ core.MediaConnection = (*MediaConn)(nil)

func newMediaConn(p *Peer, remote domain.PeerID, id string) *MediaConn {
	return &MediaConn{
		peer:   p,
		id:     id,
		remote: remote,
		logger: p.logger.With().Str("connection_id", id).Str("remote", string(remote)).Logger(),
	}
}

func (c *MediaConn) ID() string          { return c.id }
func (c *MediaConn) Peer() domain.PeerID { return c.remote }

func (c *MediaConn) newPC() (*rtc.WebRTCConnection, error) {
	pc, err := rtc.NewWebRTCConnection(c.peer.api, c.peer.rtcConfig, c.id)
	if err != nil {
		return nil, err
	}
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		err := c.peer.sendFrame(proto.TypeCandidate, c.remote, &proto.Payload{
			ConnectionID: c.id,
			Type:         proto.KindMedia,
			Candidate:    &ci,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("send candidate")
		}
	})
	pc.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.fireStream(media.RemoteStream{
			ID:     track.StreamID(),
			Tracks: []media.RemoteTrack{rtc.NewRemoteTrack(track)},
		})
	})
	pc.OnClosed(func() { go c.shutdown(false) })
	pc.OnFailed(c.fail)
	if err := pc.Start(c.peer.runContext()); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}

func addStream(pc *rtc.WebRTCConnection, stream *media.Stream) error {
	if stream == nil {
		return pc.AddRecvOnlyAudio()
	}
	for _, t := range stream.Tracks() {
		if _, err := pc.AddLocalTrack(t.Local()); err != nil {
			return err
		}
	}
	return nil
}

func (c *MediaConn) call(stream *media.Stream) error {
	pc, err := c.newPC()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pc = pc
	c.answered = true
	c.mu.Unlock()

	if err := addStream(pc, stream); err != nil {
		return err
	}
	sdp, err := pc.CreateAndSetOffer()
	if err != nil {
		return err
	}
	return c.peer.sendFrame(proto.TypeOffer, c.remote, &proto.Payload{
		ConnectionID: c.id,
		Type:         proto.KindMedia,
		SDP:          sdp,
	})
}

// Answer accepts an inbound call with stream.
func (c *MediaConn) Answer(stream *media.Stream) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.answered || c.offer == nil {
		c.mu.Unlock()
		return ErrAlreadyAnswered
	}
	c.answered = true
	offer := *c.offer
	c.mu.Unlock()

	pc, err := c.newPC()
	if err != nil {
		return err
	}
	if err := addStream(pc, stream); err != nil {
		pc.Close()
		return err
	}
	sdp, err := pc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		pc.Close()
		return err
	}

	c.mu.Lock()
	c.pc = pc
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	var errs []error
	for _, ci := range queued {
		errs = append(errs, pc.AddICECandidate(ci))
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn().Err(err).Msg("apply early candidates")
	}

	return c.peer.sendFrame(proto.TypeAnswer, c.remote, &proto.Payload{
		ConnectionID: c.id,
		Type:         proto.KindMedia,
		SDP:          sdp,
	})
}

func (c *MediaConn) handle(typ string, pl *proto.Payload) {
	c.mu.Lock()
	pc := c.pc
	if pc == nil && typ == proto.TypeCandidate && pl.Candidate != nil {
		c.queued = append(c.queued, *pl.Candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if pc == nil {
		return
	}

	switch typ {
	case proto.TypeAnswer:
		if pl.SDP == nil {
			return
		}
		if err := pc.ApplyAnswer(*pl.SDP); err != nil {
			c.fail(err)
		}
	case proto.TypeCandidate:
		if pl.Candidate == nil {
			return
		}
		if err := pc.AddICECandidate(*pl.Candidate); err != nil {
			c.logger.Warn().Err(err).Msg("add ice candidate")
		}
	}
}

func (c *MediaConn) Close() { c.shutdown(true) }

func (c *MediaConn) closeRemote() { c.shutdown(false) }

func (c *MediaConn) expire(err error) {
	c.fireError(err)
	c.shutdown(false)
}

// fail runs on pion callback goroutines, so the teardown is handed off.
func (c *MediaConn) fail(err error) {
	c.fireError(err)
	go c.shutdown(true)
}

func (c *MediaConn) shutdown(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pc := c.pc
	fn := c.onClose
	c.mu.Unlock()

	if notify {
		_ = c.peer.sendFrame(proto.TypeClose, c.remote, &proto.Payload{ConnectionID: c.id, Type: proto.KindMedia})
	}
	c.peer.remove(c.id)
	if pc != nil {
		pc.Close()
	}
	c.logger.Info().Msg("media connection closed")
	if fn != nil {
		fn()
	}
}

func (c *MediaConn) fireStream(s media.RemoteStream) {
	c.mu.Lock()
	fn := c.onStream
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *MediaConn) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("media connection error")
	if fn != nil {
		fn(err)
	}
}

func (c *MediaConn) OnStream(fn func(media.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *MediaConn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *MediaConn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}
