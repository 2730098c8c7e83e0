// Package permission sequences microphone access: a silent attempt at startup,
// then a deferred request armed on the first call attempt, optionally routed
// through a host bridge before the platform capture.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/proto"
	"github.com/rs/zerolog/log"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrBridgeDenied     = errors.New("permission denied by host")
)

type State int

const (
	Unrequested State = iota
	Granted
	DeniedDeferred
	Denied
)

func (s State) String() string {
	switch s {
	case Unrequested:
		return "unrequested"
	case Granted:
		return "granted"
	case DeniedDeferred:
		return "denied-deferred"
	case Denied:
		return "denied"
	}
	return "unknown"
}

// Coordinator owns the shared local stream. It is acquired at most once per
// process and never released while the process runs.
type Coordinator struct {
	capturer media.Capturer
	bridge   HostBridge

	mu     sync.Mutex
	state  State
	armed  bool
	stream *media.Stream
}

// New builds a coordinator. bridge may be nil.
func New(capturer media.Capturer, bridge HostBridge) *Coordinator {
	return &Coordinator{capturer: capturer, bridge: bridge}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stream returns the held stream or nil.
func (c *Coordinator) Stream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Armed reports whether the deferred trigger is waiting.
func (c *Coordinator) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Bootstrap tries a silent capture. On failure the request is deferred and
// the one-shot trigger is armed.
func (c *Coordinator) Bootstrap(ctx context.Context) (*media.Stream, error) {
	if s := c.Stream(); s != nil {
		return s, nil
	}
	s, err := c.capturer.GetUserMedia(ctx, media.Constraints{Audio: true})
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = DeniedDeferred
		c.armed = true
		log.Info().Err(err).Str("module", "permission").Msg("initial microphone access failed, will request on call attempt")
		return nil, err
	}
	log.Info().Str("module", "permission").Msg("got local microphone stream")
	return c.adopt(s), nil
}

// Fire consumes the trigger. It returns true exactly once per arming.
func (c *Coordinator) Fire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return false
	}
	c.armed = false
	return true
}

// Request runs the full acquisition: host bridge check and request when a
// bridge is present, then the platform capture. Any negative step aborts.
func (c *Coordinator) Request(ctx context.Context) (*media.Stream, error) {
	if s := c.Stream(); s != nil {
		return s, nil
	}
	if c.bridge != nil {
		if err := c.askBridge(ctx); err != nil {
			c.deny()
			log.Error().Err(err).Str("module", "permission").Msg("host permission error")
			return nil, err
		}
	}
	s, err := c.capturer.GetUserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		c.deny()
		log.Error().Err(err).Str("module", "permission").Msg("failed to get microphone access")
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	c.mu.Lock()
	s = c.adopt(s)
	c.mu.Unlock()
	log.Info().Str("module", "permission").Msg("microphone access granted")
	return s, nil
}

// Acquire returns the held stream or captures one without touching the
// trigger; used when answering an incoming call.
func (c *Coordinator) Acquire(ctx context.Context) (*media.Stream, error) {
	if s := c.Stream(); s != nil {
		return s, nil
	}
	s, err := c.capturer.GetUserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	s = c.adopt(s)
	c.mu.Unlock()
	return s, nil
}

func (c *Coordinator) askBridge(ctx context.Context) error {
	has, err := c.bridge.HasPermission(ctx, proto.CapabilityRecordAudio)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeDenied, err)
	}
	if has {
		return nil
	}
	granted, err := c.bridge.RequestPermission(ctx, proto.CapabilityRecordAudio)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeDenied, err)
	}
	if !granted {
		return ErrBridgeDenied
	}
	return nil
}

// adopt must be called with mu held. A stream captured concurrently with an
// already held one is stopped so only one exists; the held one is returned.
func (c *Coordinator) adopt(s *media.Stream) *media.Stream {
	if c.stream != nil {
		if c.stream != s {
			s.Stop()
		}
		return c.stream
	}
	c.stream = s
	c.state = Granted
	c.armed = false
	return s
}

func (c *Coordinator) deny() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		c.state = Denied
	}
}
