// Package orch owns the client session: identity, the text connection, the
// call, the call timer and the shared microphone stream. Every state change
// runs on one goroutine; library callbacks and commands are queued to it.
package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/permission"
	"github.com/dkeye/peerline/internal/ui"
)

var (
	ErrStopped = errors.New("orchestrator stopped")
	ErrNoPeer  = errors.New("peer not initialized")
)

// PeerFactory builds an unstarted peer claiming hint (empty for any).
type PeerFactory func(hint domain.PeerID) (core.PeerClient, error)

// Player plays remote call audio.
type Player interface {
	Attach(ctx context.Context, s media.RemoteStream) error
	Detach()
}

type Options struct {
	Doc               *ui.Document
	NewPeer           PeerFactory
	Permission        *permission.Coordinator
	Player            Player
	Clock             clock.Clock
	Clipboard         func(string) error
	IncomingConn      IncomingPolicy
	IncomingCall      IncomingPolicy
	ReconnectAttempts int
}

type Orchestrator struct {
	doc       *ui.Document
	status    *ui.StatusReporter
	chat      *ui.ChatLog
	perm      *permission.Coordinator
	player    Player
	newPeer   PeerFactory
	clock     clock.Clock
	clipboard func(string) error
	timer     *CallTimer

	incomingConn      IncomingPolicy
	incomingCall      IncomingPolicy
	reconnectAttempts int

	events  chan func()
	done    chan struct{}
	ctx     context.Context
	closers sync.WaitGroup

	// Owned by the loop goroutine.
	peer    core.PeerClient
	peerGen int
	id      domain.PeerID
	session *SignalingSession
	call    *CallSession
	stream  *media.Stream
	muted   bool
	retry   backoff.BackOff
}

func New(opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	doc := opts.Doc
	if doc == nil {
		doc = ui.NewDocument()
	}
	player := opts.Player
	if player == nil {
		player = media.NewPlayer("")
	}
	o := &Orchestrator{
		doc:               doc,
		status:            ui.NewStatusReporter(doc),
		chat:              ui.NewChatLog(doc, clk.Now),
		perm:              opts.Permission,
		player:            player,
		newPeer:           opts.NewPeer,
		clock:             clk,
		clipboard:         opts.Clipboard,
		incomingConn:      ParsePolicy(string(opts.IncomingConn), PolicyReplace),
		incomingCall:      ParsePolicy(string(opts.IncomingCall), PolicyReject),
		reconnectAttempts: opts.ReconnectAttempts,
		events:            make(chan func(), 256),
		done:              make(chan struct{}),
		ctx:               context.Background(),
	}
	if o.perm == nil {
		o.perm = permission.New(media.DefaultCapturer(), nil)
	}
	o.timer = NewCallTimer(clk, o.post, func(s string) { o.doc.SetText(ui.RegionCallTimer, s) })
	o.resetControls()
	return o
}

// Document exposes the rendered regions.
func (o *Orchestrator) Document() *ui.Document { return o.doc }

// ChatLog exposes the transcript.
func (o *Orchestrator) ChatLog() *ui.ChatLog { return o.chat }

// Run drains the event queue until ctx ends, then tears the session down.
// Events posted during teardown are dropped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			close(o.done)
			o.shutdown()
			return ctx.Err()
		case fn := <-o.events:
			fn()
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.hangup()
	o.dropSession()
	if o.peer != nil {
		o.closeAsync(o.peer.Destroy)
		o.peer = nil
	}
	if o.stream != nil {
		o.stream.Stop()
	}
	o.closers.Wait()
	log.Info().Str("module", "orch").Msg("session closed")
}

// post queues fn for the loop. It never blocks once the loop has stopped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case o.events <- task:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync returns once every event queued before it has been handled.
func (o *Orchestrator) Sync(ctx context.Context) error {
	return o.do(ctx, func() {})
}

// State returns a snapshot taken on the loop.
func (o *Orchestrator) State(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := o.do(ctx, func() {
		s.ID = o.id
		if o.session != nil {
			s.Remote = o.session.Remote
			s.ChatOpen = o.session.Open
		}
		if o.call != nil {
			s.Call = o.call.State
			s.CallRemote = o.call.Remote
			if o.call.State == CallActive {
				s.Elapsed = o.clock.Since(o.call.StartedAt)
			}
		}
		s.HasStream = o.stream != nil
		s.Muted = o.muted
	})
	return s, err
}

// closeAsync runs a close or destroy off the loop. Their callbacks post
// events, and the loop must keep draining while they run.
func (o *Orchestrator) closeAsync(fn func()) {
	o.closers.Add(1)
	go func() {
		defer o.closers.Done()
		fn()
	}()
}

// spawn runs a blocking step off the loop and posts its result back.
func (o *Orchestrator) spawn(step func(ctx context.Context) func()) {
	ctx := o.ctx
	go func() {
		if result := step(ctx); result != nil {
			o.post(result)
		}
	}()
}

func (o *Orchestrator) resetControls() {
	o.doc.SetDisabled(ui.RegionMessage, true)
	o.doc.SetDisabled(ui.RegionSend, true)
	o.doc.SetDisabled(ui.RegionStartCall, true)
	o.doc.SetText(ui.RegionChatPeerName, "Not connected")
	o.doc.SetText(ui.RegionChatPeerStatus, "Offline")
	o.doc.SetText(ui.RegionCallTimer, FormatElapsed(0))
	o.doc.SetText(ui.RegionMuteCall, "Mute")
}
