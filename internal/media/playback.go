package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RemoteTrack is an incoming track of a call.
type RemoteTrack interface {
	ID() string
	Kind() Kind
	ReadRTP() (*rtp.Packet, error)
}

// RemoteStream is what a call delivers once the remote side starts sending.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

type OutputState int32

const (
	OutputOk OutputState = iota
	OutputMuted
	OutputDelete
)

// Sink consumes RTP packets of one remote track.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Output is a single sink attached to a relay.
type Output struct {
	Sink  Sink
	state atomic.Int32
}

func NewOutput(s Sink) *Output { return &Output{Sink: s} }

func (o *Output) State() OutputState { return OutputState(o.state.Load()) }
func (o *Output) MarkOk()            { o.state.Store(int32(OutputOk)) }
func (o *Output) MarkMuted()         { o.state.Store(int32(OutputMuted)) }
func (o *Output) MarkDelete()        { o.state.Store(int32(OutputDelete)) }

// Relay reads RTP from one remote track and forwards it to every Output.
type Relay struct {
	Src RemoteTrack

	mu      sync.RWMutex
	outputs map[string]*Output

	done chan struct{}
}

func NewRelay(src RemoteTrack) *Relay {
	return &Relay{Src: src, outputs: make(map[string]*Output), done: make(chan struct{})}
}

func (r *Relay) AddOutput(name string, o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = o
}

func (r *Relay) Output(name string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[name]
	return o, ok
}

// Done is closed when the loop has exited and every output is closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeAll(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("relay read RTP stopped")
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outputs)
	r.mu.RUnlock()

	var dirty []string
	for name, o := range snapshot {
		switch o.State() {
		case OutputDelete:
			dirty = append(dirty, name)
		case OutputMuted:
		case OutputOk:
			if err := o.Sink.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("output", name).Msg("relay write RTP error, dropping output")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanup(dirty, logger)
	}
}

func (r *Relay) cleanup(dirty []string, logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range dirty {
		if o, ok := r.outputs[name]; ok {
			if err := o.Sink.Close(); err != nil {
				logger.Warn().Err(err).Str("output", name).Msg("close output")
			}
			delete(r.outputs, name)
		}
	}
}

func (r *Relay) closeAll(logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, o := range r.outputs {
		o.MarkDelete()
		if err := o.Sink.Close(); err != nil {
			logger.Warn().Err(err).Str("output", name).Msg("close output")
		}
		delete(r.outputs, name)
	}
}

// Player attaches remote streams for playback. Without a record directory the
// packets are drained so the remote sender is never blocked.
type Player struct {
	recordDir string

	mu     sync.Mutex
	cancel context.CancelFunc
	relays []*Relay
	paused bool
}

func NewPlayer(recordDir string) *Player {
	return &Player{recordDir: recordDir}
}

// Attach starts one relay per track, replacing anything already attached.
func (p *Player) Attach(ctx context.Context, s RemoteStream) error {
	p.Detach()
	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	relays := make([]*Relay, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		logger := log.With().Str("module", "media.playback").Str("stream_id", s.ID).Str("track_id", t.ID()).Logger()
		relay := NewRelay(t)
		relay.AddOutput("drain", NewOutput(DrainSink{}))
		if p.recordDir != "" && t.Kind() == KindAudio {
			name := filepath.Join(p.recordDir, fmt.Sprintf("call-%s-%s.ogg", time.Now().Format("20060102-150405"), t.ID()))
			w, err := oggwriter.New(name, 48000, 2)
			if err != nil {
				logger.Error().Err(err).Str("file", name).Msg("open recording")
			} else {
				out := NewOutput(w)
				if paused {
					out.MarkMuted()
				}
				relay.AddOutput("record", out)
				logger.Info().Str("file", name).Msg("recording remote audio")
			}
		}
		relays = append(relays, relay)
		go relay.loop(ctx, &logger)
	}

	p.mu.Lock()
	p.cancel = cancel
	p.relays = relays
	p.mu.Unlock()
	return nil
}

// Detach stops playback. Safe to call when nothing is attached.
func (p *Player) Detach() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.relays = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Recording reports whether received audio is being written to disk.
func (p *Player) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recordDir != "" && !p.paused
}

// SetRecording pauses or resumes writing received audio. Files stay open
// while paused. Without a record directory it does nothing and returns false.
func (p *Player) SetRecording(on bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recordDir == "" {
		return false
	}
	p.paused = !on
	for _, r := range p.relays {
		o, ok := r.Output("record")
		if !ok {
			continue
		}
		if on {
			o.MarkOk()
		} else {
			o.MarkMuted()
		}
	}
	return on
}

// Attached reports whether a stream is currently playing.
func (p *Player) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// DrainSink discards packets.
type DrainSink struct{}

func (DrainSink) WriteRTP(*rtp.Packet) error { return nil }
func (DrainSink) Close() error               { return nil }
