// Package peer is a small broker-backed peer library: a Peer registers an
// identifier on the signaling broker, opens data connections, places calls and
// accepts both from other peers. SDP and ICE candidates travel through the
// broker; everything else flows over WebRTC.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/adapters/rtc"
	"github.com/dkeye/peerline/internal/config"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/proto"
)

var (
	ErrIDTaken         = errors.New("id is taken")
	ErrPeerUnavailable = errors.New("could not connect to peer")
	ErrNotOpen         = errors.New("connection is not open")
	ErrDisconnected    = errors.New("disconnected from broker")
	ErrDestroyed       = errors.New("peer destroyed")
	ErrAlreadyAnswered = errors.New("call already answered")
)

type Options struct {
	BrokerURL  string
	Key        string
	ICEServers []config.ICEServer
	Heartbeat  time.Duration
	// API is shared by every connection; nil builds one with default codecs.
	API    *webrtc.API
	Dialer *websocket.Dialer
}

// OptionsFromConfig maps the peer section of the config.
func OptionsFromConfig(cfg config.PeerConfig) Options {
	return Options{
		BrokerURL:  cfg.BrokerURL,
		Key:        cfg.Key,
		ICEServers: cfg.ICEServers,
		Heartbeat:  cfg.Heartbeat,
	}
}

// connection is what the peer routes relayed frames to.
type connection interface {
	ID() string
	Peer() domain.PeerID
	handle(typ string, p *proto.Payload)
	expire(err error)
	closeRemote()
	Close()
}

type Peer struct {
	opts      Options
	api       *webrtc.API
	rtcConfig webrtc.Configuration
	logger    zerolog.Logger

	mu           sync.Mutex
	id           domain.PeerID
	ctx          context.Context
	cancel       context.CancelFunc
	sock         *socket
	open         bool
	disconnected bool
	destroyed    bool
	conns        map[string]connection

	onOpen         func(domain.PeerID)
	onConnection   func(core.DataConnection)
	onCall         func(core.MediaConnection)
	onError        func(error)
	onDisconnected func()
}

var _ core.PeerClient = (*Peer)(nil)

// New prepares a peer. hint is the identifier to claim; empty lets the
// broker assign one.
func New(hint domain.PeerID, opts Options) (*Peer, error) {
	api := opts.API
	if api == nil {
		var err error
		if api, err = rtc.NewAPI(zerolog.WarnLevel, false); err != nil {
			return nil, fmt.Errorf("webrtc api: %w", err)
		}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Peer{
		opts:      opts,
		api:       api,
		rtcConfig: rtc.DefaultWebRTCConfig(opts.ICEServers),
		logger:    log.With().Str("module", "peer").Logger(),
		id:        hint,
		conns:     make(map[string]connection),
	}, nil
}

func (p *Peer) ID() domain.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Open reports whether the broker confirmed the identifier.
func (p *Peer) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Peer) Start(ctx context.Context) error {
	return p.dial(ctx)
}

func (p *Peer) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if !p.disconnected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	p.logger.Info().Str("peer_id", string(p.ID())).Msg("reconnecting to broker")
	return p.dial(ctx)
}

func (p *Peer) brokerURL() (string, error) {
	u, err := url.Parse(p.opts.BrokerURL)
	if err != nil {
		return "", fmt.Errorf("broker url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + proto.SignalPath
	q := u.Query()
	q.Set("key", p.opts.Key)
	if id := p.ID(); id != "" {
		q.Set("id", string(id))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Peer) dial(ctx context.Context) error {
	target, err := p.brokerURL()
	if err != nil {
		return err
	}
	ws, _, err := p.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		_ = ws.Close()
		return ErrDestroyed
	}
	sock := newSocket(ws)
	runCtx, cancel := context.WithCancel(ctx)
	p.ctx = runCtx
	p.cancel = cancel
	p.sock = sock
	p.disconnected = false
	p.mu.Unlock()

	go sock.writePump(runCtx, p.logger)
	go sock.readPump(p.logger, p.handleFrame, func() { p.lost(sock) })
	go p.heartbeat(runCtx, sock)
	return nil
}

func (p *Peer) heartbeat(ctx context.Context, sock *socket) {
	ticker := time.NewTicker(p.opts.Heartbeat)
	defer ticker.Stop()
	frame, _ := proto.Encode(proto.TypeHeartbeat, "", "", nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.TrySend(frame); err != nil {
				return
			}
		}
	}
}

// lost runs when the read side of sock ends.
func (p *Peer) lost(sock *socket) {
	sock.Close()
	p.mu.Lock()
	if p.sock != sock {
		p.mu.Unlock()
		return
	}
	p.sock = nil
	p.open = false
	if p.cancel != nil {
		p.cancel()
	}
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	fn := p.onDisconnected
	p.mu.Unlock()

	p.logger.Warn().Str("peer_id", string(p.ID())).Msg("lost broker connection")
	if fn != nil {
		fn()
	}
}

func (p *Peer) handleFrame(data []byte) {
	msg, err := proto.Decode(data)
	if err != nil {
		p.logger.Error().Err(err).Msg("bad frame")
		return
	}

	switch msg.Type {
	case proto.TypeOpen:
		p.mu.Lock()
		p.open = true
		if msg.ID != "" {
			p.id = domain.PeerID(msg.ID)
		}
		id := p.id
		fn := p.onOpen
		p.mu.Unlock()
		p.logger.Info().Str("peer_id", string(id)).Msg("registered on broker")
		if fn != nil {
			fn(id)
		}
	case proto.TypeIDTaken:
		id := p.ID()
		p.Destroy()
		p.fireError(fmt.Errorf("%w: %s", ErrIDTaken, id))
	case proto.TypeError:
		pl, _ := msg.DecodePayload()
		text := "broker error"
		if pl != nil && pl.Msg != "" {
			text = pl.Msg
		}
		p.fireError(errors.New(text))
	case proto.TypeExpire:
		remote := domain.PeerID(msg.Src)
		for _, c := range p.connsOf(remote) {
			c.expire(fmt.Errorf("%w %s", ErrPeerUnavailable, remote))
		}
	case proto.TypeOffer:
		pl, err := msg.DecodePayload()
		if err != nil || pl.SDP == nil {
			p.logger.Warn().Str("src", msg.Src).Msg("offer without sdp")
			return
		}
		p.accept(domain.PeerID(msg.Src), pl)
	case proto.TypeAnswer, proto.TypeCandidate, proto.TypeClose:
		pl, err := msg.DecodePayload()
		if err != nil {
			p.logger.Warn().Err(err).Str("type", msg.Type).Msg("bad payload")
			return
		}
		c, ok := p.lookup(pl.ConnectionID)
		if !ok {
			p.logger.Debug().Str("type", msg.Type).Str("connection_id", pl.ConnectionID).Msg("frame for unknown connection")
			return
		}
		if msg.Type == proto.TypeClose {
			c.closeRemote()
			return
		}
		c.handle(msg.Type, pl)
	case proto.TypeHeartbeat:
	default:
		p.logger.Warn().Str("type", msg.Type).Msg("unknown frame")
	}
}

func (p *Peer) accept(remote domain.PeerID, pl *proto.Payload) {
	switch pl.Type {
	case proto.KindData:
		dc, err := newDataConn(p, remote, pl.ConnectionID, pl.Label)
		if err != nil {
			p.logger.Error().Err(err).Str("src", string(remote)).Msg("create inbound data connection")
			return
		}
		p.add(dc)
		if err := dc.answer(pl); err != nil {
			p.logger.Error().Err(err).Str("src", string(remote)).Msg("answer data connection")
			dc.Close()
			return
		}
		p.mu.Lock()
		fn := p.onConnection
		p.mu.Unlock()
		if fn != nil {
			fn(dc)
		} else {
			dc.Close()
		}
	case proto.KindMedia:
		mc := newMediaConn(p, remote, pl.ConnectionID)
		mc.offer = pl.SDP
		p.add(mc)
		p.mu.Lock()
		fn := p.onCall
		p.mu.Unlock()
		if fn != nil {
			fn(mc)
		} else {
			mc.Close()
		}
	default:
		p.logger.Warn().Str("kind", pl.Type).Msg("offer of unknown kind")
	}
}

func (p *Peer) Connect(remote domain.PeerID) (core.DataConnection, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	dc, err := newDataConn(p, remote, "dc_"+uuid.NewString(), "chat")
	if err != nil {
		return nil, err
	}
	p.add(dc)
	if err := dc.offer(); err != nil {
		dc.shutdown(false)
		return nil, err
	}
	return dc, nil
}

func (p *Peer) Call(remote domain.PeerID, stream *media.Stream) (core.MediaConnection, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	mc := newMediaConn(p, remote, "mc_"+uuid.NewString())
	p.add(mc)
	if err := mc.call(stream); err != nil {
		mc.shutdown(false)
		return nil, err
	}
	return mc, nil
}

func (p *Peer) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.destroyed:
		return ErrDestroyed
	case p.sock == nil:
		return ErrDisconnected
	}
	return nil
}

func (p *Peer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.open = false
	conns := make([]connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	p.mu.Lock()
	sock := p.sock
	p.sock = nil
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
	p.logger.Info().Str("peer_id", string(p.ID())).Msg("destroyed")
}

// sendFrame relays one frame to dst through the broker.
func (p *Peer) sendFrame(typ string, dst domain.PeerID, pl *proto.Payload) error {
	p.mu.Lock()
	sock := p.sock
	src := p.id
	p.mu.Unlock()
	if sock == nil {
		return ErrDisconnected
	}
	b, err := proto.Encode(typ, string(src), string(dst), pl)
	if err != nil {
		return err
	}
	return sock.TrySend(b)
}

func (p *Peer) runContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *Peer) add(c connection) {
	p.mu.Lock()
	p.conns[c.ID()] = c
	p.mu.Unlock()
}

func (p *Peer) remove(id string) {
	p.mu.Lock()
	delete(p.conns, id)
	p.mu.Unlock()
}

func (p *Peer) lookup(id string) (connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[id]
	return c, ok
}

func (p *Peer) connsOf(remote domain.PeerID) []connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []connection
	for _, c := range p.conns {
		if c.Peer() == remote {
			out = append(out, c)
		}
	}
	return out
}

func (p *Peer) fireError(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	p.logger.Error().Err(err).Msg("peer error")
	if fn != nil {
		fn(err)
	}
}

func (p *Peer) OnOpen(fn func(domain.PeerID)) {
	p.mu.Lock()
	p.onOpen = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnection(fn func(core.DataConnection)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

func (p *Peer) OnCall(fn func(core.MediaConnection)) {
	p.mu.Lock()
	p.onCall = fn
	p.mu.Unlock()
}

func (p *Peer) OnError(fn func(error)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

func (p *Peer) OnDisconnected(fn func()) {
	p.mu.Lock()
	p.onDisconnected = fn
	p.mu.Unlock()
}
