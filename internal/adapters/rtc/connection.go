package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/config"
)

var ErrClosed = errors.New("peer connection closed")

// DefaultWebRTCConfig converts configured ICE servers. An empty list means
// host candidates only.
func DefaultWebRTCConfig(servers []config.ICEServer) webrtc.Configuration {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		out = append(out, ice)
	}
	return webrtc.Configuration{ICEServers: out}
}

// NewAPI builds a pion API with the default codecs and interceptors and pion
// logs routed through zerolog. loopback adds 127.0.0.1 host candidates, which
// only matters when both ends share a host.
func NewAPI(logLevel zerolog.Level, loopback bool) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logLevel)}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	se.SetIncludeLoopbackCandidate(loopback)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// WebRTCConnection is one negotiated peer connection. Remote candidates that
// arrive before the remote description are queued.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	cancel context.CancelFunc
	logger zerolog.Logger

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	closed    bool

	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onDataChannel func(*webrtc.DataChannel)
	onClosed      func()
	onFailed      func(error)
	closedFired   atomic.Bool
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, id string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{
		pc:     pc,
		id:     id,
		logger: log.With().Str("module", "webrtc").Str("connection_id", id).Logger(),
	}, nil
}

// Start wires pion callbacks. Callbacks set after Start are still honored.
func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.fail(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.mu.Lock()
		fn := c.onDataChannel
		c.mu.Unlock()
		if fn != nil {
			fn(dc)
		}
	})

	return nil
}

// CreateAndSetOffer creates the local offer. Candidates trickle through OnICECandidate.
func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	if err := c.flushCandidates(); err != nil {
		c.logger.Warn().Err(err).Msg("apply queued candidates")
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	return c.flushCandidates()
}

// AddICECandidate applies a remote candidate or queues it.
func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) flushCandidates() error {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	var errs []error
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateDataChannel opens a reliable, ordered channel.
func (c *WebRTCConnection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	return c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
}

// AddLocalTrack attaches a local track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

// AddRecvOnlyAudio makes the SDP carry an audio m-line without a local track.
func (c *WebRTCConnection) AddRecvOnlyAudio() error {
	_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	c.fireClosed()
}

// fireClosed notifies at most once. The handler may call Close.
func (c *WebRTCConnection) fireClosed() {
	if !c.closedFired.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *WebRTCConnection) fail(err error) {
	c.mu.Lock()
	fn := c.onFailed
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnDataChannel(fn func(*webrtc.DataChannel)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

// OnClosed fires once, on local Close or when pion reports the connection closed.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// OnFailed fires when ICE/DTLS gives up.
func (c *WebRTCConnection) OnFailed(fn func(error)) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}
