// Package media holds the local stream that is captured once and reused across
// calls, and the playback relay for remote streams.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Sample is one encoded frame.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

// Source produces encoded frames. Read blocks until the next frame.
type Source interface {
	Read() (Sample, func(), error)
	Close() error
}

// Track is a toggleable local track. When disabled it keeps the RTP clock
// running by writing silence.
type Track struct {
	id      string
	kind    Kind
	source  Source
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTrack wraps src as an Opus track. It does not start pumping until Start.
func NewTrack(kind Kind, streamID string, src Source) (*Track, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &Track{id: id, kind: kind, source: src, local: local, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() Kind               { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }
func (t *Track) Enabled() bool            { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }

// Start runs the pump until ctx ends, the source fails or Stop is called.
func (t *Track) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		go t.pump(ctx)
	})
}

func (t *Track) pump(ctx context.Context) {
	defer close(t.done)
	logger := log.With().Str("module", "media.track").Str("track_id", t.id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s, release, err := t.source.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error().Err(err).Msg("source read error, stopping track")
			}
			return
		}
		data := s.Data
		if !t.Enabled() {
			data = opusSilence
		}
		werr := t.local.WriteSample(pionmedia.Sample{Data: data, Duration: s.Duration})
		if release != nil {
			release()
		}
		if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			logger.Warn().Err(werr).Msg("write sample")
		}
	}
}

// Stop ends the pump and closes the source.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if err := t.source.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media.track").Str("track_id", t.id).Msg("close source")
		}
	})
}

// Stream is an ordered set of local tracks.
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(id string, tracks ...*Track) *Stream {
	if id == "" {
		id = uuid.NewString()
	}
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AudioTracks() []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) Start(ctx context.Context) {
	for _, t := range s.tracks {
		t.Start(ctx)
	}
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
