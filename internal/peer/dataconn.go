package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/peerline/internal/adapters/rtc"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/proto"
)

// DataConn is a reliable, ordered channel carrying raw payloads.
type DataConn struct {
	peer   *Peer
	id     string
	remote domain.PeerID
	label  string
	pc     *rtc.WebRTCConnection
	logger zerolog.Logger

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	open    bool
	closed  bool
	pending [][]byte

	onOpen  func()
	onData  func([]byte)
	onClose func()
	onError func(error)
}

var _ core.DataConnection = (*DataConn)(nil)

func newDataConn(p *Peer, remote domain.PeerID, id, label string) (*DataConn, error) {
	pc, err := rtc.NewWebRTCConnection(p.api, p.rtcConfig, id)
	if err != nil {
		return nil, err
	}
	c := &DataConn{
		peer:   p,
		id:     id,
		remote: remote,
		label:  label,
		pc:     pc,
		logger: p.logger.With().Str("connection_id", id).Str("remote", string(remote)).Logger(),
	}
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		err := p.sendFrame(proto.TypeCandidate, remote, &proto.Payload{
			ConnectionID: id,
			Type:         proto.KindData,
			Candidate:    &ci,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("send candidate")
		}
	})
	pc.OnDataChannel(c.bind)
	pc.OnClosed(func() { go c.shutdown(false) })
	pc.OnFailed(c.fail)
	if err := pc.Start(p.runContext()); err != nil {
		pc.Close()
		return nil, err
	}
	return c, nil
}

func (c *DataConn) ID() string          { return c.id }
func (c *DataConn) Peer() domain.PeerID { return c.remote }

func (c *DataConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *DataConn) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		if c.closed || c.open {
			c.mu.Unlock()
			return
		}
		c.open = true
		fn := c.onOpen
		c.mu.Unlock()
		c.logger.Info().Msg("data channel open")
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliver(msg.Data)
	})
	dc.OnClose(func() { go c.shutdown(false) })
	dc.OnError(c.fail)
}

func (c *DataConn) offer() error {
	dc, err := c.pc.CreateDataChannel(c.label)
	if err != nil {
		return err
	}
	c.bind(dc)
	sdp, err := c.pc.CreateAndSetOffer()
	if err != nil {
		return err
	}
	return c.peer.sendFrame(proto.TypeOffer, c.remote, &proto.Payload{
		ConnectionID:  c.id,
		Type:          proto.KindData,
		SDP:           sdp,
		Label:         c.label,
		Serialization: proto.SerializationNone,
		Reliable:      true,
	})
}

func (c *DataConn) answer(pl *proto.Payload) error {
	sdp, err := c.pc.ApplyOfferAndCreateAnswer(*pl.SDP)
	if err != nil {
		return err
	}
	return c.peer.sendFrame(proto.TypeAnswer, c.remote, &proto.Payload{
		ConnectionID: c.id,
		Type:         proto.KindData,
		SDP:          sdp,
	})
}

func (c *DataConn) handle(typ string, pl *proto.Payload) {
	switch typ {
	case proto.TypeAnswer:
		if pl.SDP == nil {
			return
		}
		if err := c.pc.ApplyAnswer(*pl.SDP); err != nil {
			c.fail(err)
		}
	case proto.TypeCandidate:
		if pl.Candidate == nil {
			return
		}
		if err := c.pc.AddICECandidate(*pl.Candidate); err != nil {
			c.logger.Warn().Err(err).Msg("add ice candidate")
		}
	}
}

// Send writes data as one message.
func (c *DataConn) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	open := c.open
	c.mu.Unlock()
	if !open || dc == nil {
		return ErrNotOpen
	}
	return dc.Send(data)
}

func (c *DataConn) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onData
	if fn == nil {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(data)
}

func (c *DataConn) Close() { c.shutdown(true) }

func (c *DataConn) closeRemote() { c.shutdown(false) }

func (c *DataConn) expire(err error) {
	c.fireError(err)
	c.shutdown(false)
}

// fail runs on pion callback goroutines, so the teardown is handed off.
func (c *DataConn) fail(err error) {
	c.fireError(err)
	go c.shutdown(true)
}

// shutdown closes once. notify tells the remote through the broker.
func (c *DataConn) shutdown(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	fn := c.onClose
	c.mu.Unlock()

	if notify {
		_ = c.peer.sendFrame(proto.TypeClose, c.remote, &proto.Payload{ConnectionID: c.id, Type: proto.KindData})
	}
	c.peer.remove(c.id)
	c.pc.Close()
	c.logger.Info().Msg("data connection closed")
	if fn != nil {
		fn()
	}
}

func (c *DataConn) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("data connection error")
	if fn != nil {
		fn(err)
	}
}

func (c *DataConn) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *DataConn) OnData(fn func([]byte)) {
	c.mu.Lock()
	c.onData = fn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, b := range pending {
		fn(b)
	}
}

func (c *DataConn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *DataConn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}
