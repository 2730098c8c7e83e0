package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/ui"
)

var errFake = errors.New("boom")

type fakePeer struct {
	mu           sync.Mutex
	hint         domain.PeerID
	starts       int
	reconnects   int
	reconnectErr error
	destroyed    bool
	dials        []*fakeData
	calls        []*fakeMedia

	onOpen         func(domain.PeerID)
	onConnection   func(core.DataConnection)
	onCall         func(core.MediaConnection)
	onError        func(error)
	onDisconnected func()
}

var _ core.PeerClient = (*fakePeer)(nil)

func (p *fakePeer) ID() domain.PeerID { return p.hint }

func (p *fakePeer) Start(context.Context) error {
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Reconnect(context.Context) error {
	p.mu.Lock()
	p.reconnects++
	err := p.reconnectErr
	fn := p.onOpen
	p.mu.Unlock()
	if err == nil && fn != nil {
		fn(p.hint)
	}
	return err
}

func (p *fakePeer) Connect(remote domain.PeerID) (core.DataConnection, error) {
	c := newFakeData(remote)
	p.mu.Lock()
	p.dials = append(p.dials, c)
	p.mu.Unlock()
	return c, nil
}

func (p *fakePeer) Call(remote domain.PeerID, stream *media.Stream) (core.MediaConnection, error) {
	c := &fakeMedia{remote: remote, stream: stream}
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
	return c, nil
}

func (p *fakePeer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
}

func (p *fakePeer) OnOpen(fn func(domain.PeerID))             { p.mu.Lock(); p.onOpen = fn; p.mu.Unlock() }
func (p *fakePeer) OnConnection(fn func(core.DataConnection)) { p.mu.Lock(); p.onConnection = fn; p.mu.Unlock() }
func (p *fakePeer) OnCall(fn func(core.MediaConnection))      { p.mu.Lock(); p.onCall = fn; p.mu.Unlock() }
func (p *fakePeer) OnError(fn func(error))                    { p.mu.Lock(); p.onError = fn; p.mu.Unlock() }
func (p *fakePeer) OnDisconnected(fn func())                  { p.mu.Lock(); p.onDisconnected = fn; p.mu.Unlock() }

func (p *fakePeer) open(id domain.PeerID) {
	p.mu.Lock()
	fn := p.onOpen
	p.mu.Unlock()
	fn(id)
}

func (p *fakePeer) fail(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	fn(err)
}

func (p *fakePeer) disconnect() {
	p.mu.Lock()
	fn := p.onDisconnected
	p.mu.Unlock()
	fn()
}

func (p *fakePeer) incoming(c core.DataConnection) {
	p.mu.Lock()
	fn := p.onConnection
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) ring(c core.MediaConnection) {
	p.mu.Lock()
	fn := p.onCall
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) lastDial() *fakeData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dials) == 0 {
		return nil
	}
	return p.dials[len(p.dials)-1]
}

func (p *fakePeer) placed() []*fakeMedia {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeMedia(nil), p.calls...)
}

func (p *fakePeer) reconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

func (p *fakePeer) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

type fakeData struct {
	remote domain.PeerID

	mu      sync.Mutex
	isOpen  bool
	closed  bool
	sendErr error
	sent    []string

	onOpen  func()
	onData  func([]byte)
	onClose func()
	onError func(error)
}

var _ core.DataConnection = (*fakeData)(nil)

func newFakeData(remote domain.PeerID) *fakeData { return &fakeData{remote: remote} }

func (c *fakeData) ID() string          { return "dc_" + string(c.remote) }
func (c *fakeData) Peer() domain.PeerID { return c.remote }

func (c *fakeData) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *fakeData) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isOpen {
		return errors.New("not open")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeData) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed, c.isOpen = true, false
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeData) OnOpen(fn func())       { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *fakeData) OnData(fn func([]byte)) { c.mu.Lock(); c.onData = fn; c.mu.Unlock() }
func (c *fakeData) OnClose(fn func())      { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeData) OnError(fn func(error)) { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }

func (c *fakeData) open() {
	c.mu.Lock()
	c.isOpen = true
	fn := c.onOpen
	c.mu.Unlock()
	fn()
}

func (c *fakeData) receive(text string) {
	c.mu.Lock()
	fn := c.onData
	c.mu.Unlock()
	fn([]byte(text))
}

func (c *fakeData) fail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	fn(err)
}

func (c *fakeData) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeData) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeData) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeMedia struct {
	remote domain.PeerID
	stream *media.Stream

	mu        sync.Mutex
	answered  *media.Stream
	answers   int
	answerErr error
	closed    bool
	gate      chan struct{}
	gateOnce  sync.Once

	onStream func(media.RemoteStream)
	onClose  func()
	onError  func(error)
}

var _ core.MediaConnection = (*fakeMedia)(nil)

func (c *fakeMedia) ID() string          { return "mc_" + string(c.remote) }
func (c *fakeMedia) Peer() domain.PeerID { return c.remote }

func (c *fakeMedia) Answer(stream *media.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	c.answered = stream
	return c.answerErr
}

func (c *fakeMedia) Close() {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeMedia) OnStream(fn func(media.RemoteStream)) { c.mu.Lock(); c.onStream = fn; c.mu.Unlock() }
func (c *fakeMedia) OnClose(fn func())                    { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeMedia) OnError(fn func(error))               { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }

// blockClose makes Close wait until unblockClose.
func (c *fakeMedia) blockClose() {
	c.mu.Lock()
	c.gate = make(chan struct{})
	c.mu.Unlock()
}

func (c *fakeMedia) unblockClose() {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	c.gateOnce.Do(func() { close(gate) })
}

func (c *fakeMedia) deliver() {
	c.mu.Lock()
	fn := c.onStream
	c.mu.Unlock()
	fn(media.RemoteStream{ID: "remote-" + string(c.remote)})
}

func (c *fakeMedia) fail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	fn(err)
}

func (c *fakeMedia) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeMedia) answeredWith() (*media.Stream, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered, c.answers
}

type fakePlayer struct {
	mu       sync.Mutex
	attached []media.RemoteStream
	detaches int
	playing  bool
}

func (p *fakePlayer) Attach(_ context.Context, s media.RemoteStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = append(p.attached, s)
	p.playing = true
	return nil
}

func (p *fakePlayer) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detaches++
	p.playing = false
}

func (p *fakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// recorder counts document mutations.
type recorder struct {
	mu sync.Mutex
	n  int
}

func (r *recorder) Apply(ui.Mutation) {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
