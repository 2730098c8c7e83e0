package orch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/permission"
	"github.com/dkeye/peerline/internal/ui"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	o      *Orchestrator
	clk    *clock.Mock
	player *fakePlayer
	rec    *recorder
	ctx    context.Context

	mu     sync.Mutex
	peers  []*fakePeer
	copied string
}

func denyCapturer() media.Capturer {
	return media.CapturerFunc(func(context.Context, media.Constraints) (*media.Stream, error) {
		return nil, media.ErrNoDevice
	})
}

// denyFirst fails the first n captures and grants every later one.
func denyFirst(n int32) media.Capturer {
	var calls atomic.Int32
	return media.CapturerFunc(func(ctx context.Context, c media.Constraints) (*media.Stream, error) {
		if calls.Add(1) <= n {
			return nil, media.ErrNoDevice
		}
		return media.SyntheticCapturer{}.GetUserMedia(ctx, c)
	})
}

// gatedCapturer fails the silent startup capture and holds every later one
// until release is closed.
func gatedCapturer(release <-chan struct{}) media.Capturer {
	var calls atomic.Int32
	return media.CapturerFunc(func(ctx context.Context, c media.Constraints) (*media.Stream, error) {
		if calls.Add(1) == 1 {
			return nil, media.ErrNoDevice
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return media.SyntheticCapturer{}.GetUserMedia(ctx, c)
	})
}

func newFixture(t *testing.T, capturer media.Capturer) *fixture {
	t.Helper()
	if capturer == nil {
		capturer = media.SyntheticCapturer{}
	}
	f := &fixture{clk: clock.NewMock(), player: &fakePlayer{}, rec: &recorder{}}
	f.o = New(Options{
		Doc: ui.NewDocument(f.rec),
		NewPeer: func(hint domain.PeerID) (core.PeerClient, error) {
			p := &fakePeer{hint: hint}
			f.mu.Lock()
			f.peers = append(f.peers, p)
			f.mu.Unlock()
			return p, nil
		},
		Permission: permission.New(capturer, nil),
		Player:     f.player,
		Clock:      f.clk,
		Clipboard: func(s string) error {
			f.mu.Lock()
			f.copied = s
			f.mu.Unlock()
			return nil
		},
		ReconnectAttempts: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.ctx = ctx
	stopped := make(chan struct{})
	go func() {
		_ = f.o.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	require.NoError(t, f.o.Initialize(ctx, "abc123"))
	return f
}

func (f *fixture) peer() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.o.Sync(f.ctx))
}

func (f *fixture) state(t *testing.T) Snapshot {
	t.Helper()
	s, err := f.o.State(f.ctx)
	require.NoError(t, err)
	return s
}

func (f *fixture) text(r ui.Region) string { return f.o.Document().Text(r) }

// ready opens the peer and waits for the startup capture to settle.
func (f *fixture) ready(t *testing.T) {
	t.Helper()
	f.peer().open("abc123")
	f.sync(t)
	require.Eventually(t, func() bool {
		f.sync(t)
		if f.o.perm.State() == permission.Unrequested {
			return false
		}
		return f.o.perm.Stream() == nil || f.state(t).HasStream
	}, waitFor, tick)
}

func (f *fixture) connect(t *testing.T, remote string) *fakeData {
	t.Helper()
	require.NoError(t, f.o.Connect(f.ctx, remote))
	c := f.peer().lastDial()
	require.NotNil(t, c)
	c.open()
	f.sync(t)
	return c
}

func (f *fixture) activeCall(t *testing.T) *fakeMedia {
	t.Helper()
	require.NoError(t, f.o.StartCall(f.ctx))
	calls := f.peer().placed()
	require.Len(t, calls, 1)
	calls[0].deliver()
	f.sync(t)
	require.Equal(t, CallActive, f.state(t).Call)
	return calls[0]
}

func TestPeerOpenShowsIdentity(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, "Connecting...", f.o.status.Text())
	assert.Equal(t, "Connecting", f.text(ui.RegionIndicatorText))

	f.ready(t)
	assert.Equal(t, "abc123", f.text(ui.RegionPeerID))
	assert.Equal(t, "A", f.text(ui.RegionUserAvatar))
	assert.Equal(t, "Online", f.text(ui.RegionIndicatorText))
	assert.True(t, f.o.Document().HasClass(ui.RegionIndicator, "online"))
	assert.Equal(t, "Ready to connect", f.o.status.Text())

	s := f.state(t)
	assert.EqualValues(t, "abc123", s.ID)
	assert.True(t, s.HasStream)
}

func TestInitializeRejectsInvalidHint(t *testing.T) {
	f := newFixture(t, nil)
	err := f.o.Initialize(f.ctx, "not valid!")
	assert.ErrorIs(t, err, domain.ErrPeerIDInvalid)
}

func TestPeerErrorShowsStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.peer().fail(errFake)
	f.sync(t)
	assert.Equal(t, "Error: boom", f.o.status.Text())
	assert.Equal(t, ui.KindError, f.o.status.Kind())
	assert.Equal(t, "Error", f.text(ui.RegionIndicatorText))
}

func TestRegenerateIDReplacesPeer(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	old := f.peer()

	require.NoError(t, f.o.RegenerateID(f.ctx))
	require.Eventually(t, old.isDestroyed, waitFor, tick)
	assert.NotSame(t, old, f.peer())
	assert.EqualValues(t, "", f.peer().hint)

	entries := f.o.ChatLog().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "Generated new peer ID", entries[len(entries)-1].Text)

	old.open("stale")
	f.sync(t)
	assert.Equal(t, "abc123", f.text(ui.RegionPeerID))

	f.peer().open("fresh")
	f.sync(t)
	assert.Equal(t, "fresh", f.text(ui.RegionPeerID))
}

func TestCopyID(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	require.NoError(t, f.o.CopyID(f.ctx))

	f.mu.Lock()
	assert.Equal(t, "abc123", f.copied)
	f.mu.Unlock()
	entries := f.o.ChatLog().Entries()
	assert.Equal(t, "Peer ID copied to clipboard", entries[len(entries)-1].Text)
}

func TestConnectWithoutRemoteAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	require.NoError(t, f.o.Connect(f.ctx, "   "))
	assert.Equal(t, "Please enter a peer ID", f.text(ui.RegionAlert))
	assert.Nil(t, f.peer().lastDial())
}

func TestSendRequiresOpenChannel(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)

	require.NoError(t, f.o.Send(f.ctx, "hi"))
	assert.Equal(t, "Error sending message", f.o.status.Text())
	assert.Equal(t, ui.KindError, f.o.status.Kind())
	assert.Zero(t, f.o.ChatLog().Len())

	require.NoError(t, f.o.Connect(f.ctx, "bob"))
	c := f.peer().lastDial()
	require.NoError(t, f.o.Send(f.ctx, "early"))
	assert.Empty(t, c.messages())
	assert.Zero(t, f.o.ChatLog().Len())

	c.open()
	f.sync(t)
	before := f.o.ChatLog().Len()
	require.NoError(t, f.o.Send(f.ctx, "  hello bob  "))
	assert.Equal(t, []string{"hello bob"}, c.messages())
	entries := f.o.ChatLog().Entries()
	require.Len(t, entries, before+1)
	assert.Equal(t, domain.OriginLocal, entries[before].Origin)
	assert.Equal(t, "hello bob", entries[before].Text)
	assert.Equal(t, "", f.text(ui.RegionMessage))

	require.NoError(t, f.o.Send(f.ctx, "   "))
	assert.Len(t, f.o.ChatLog().Entries(), before+1)

	c.setSendErr(errFake)
	require.NoError(t, f.o.Send(f.ctx, "lost"))
	assert.Equal(t, "Error sending message", f.o.status.Text())
	assert.Len(t, f.o.ChatLog().Entries(), before+1)
}

func TestChatOpenEnablesControls(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	doc := f.o.Document()
	assert.True(t, doc.Disabled(ui.RegionSend))

	c := f.connect(t, "bob")
	assert.Equal(t, "Connected to bob", f.o.status.Text())
	assert.Equal(t, ui.KindConnected, f.o.status.Kind())
	assert.False(t, doc.Disabled(ui.RegionMessage))
	assert.False(t, doc.Disabled(ui.RegionSend))
	assert.False(t, doc.Disabled(ui.RegionStartCall))
	assert.Equal(t, "Peer bob", f.text(ui.RegionChatPeerName))
	assert.Equal(t, "Online", f.text(ui.RegionChatPeerStatus))

	// A second open event must not add another notice.
	n := f.o.ChatLog().Len()
	c.open()
	f.sync(t)
	assert.Equal(t, n, f.o.ChatLog().Len())
}

func TestRemotePayloadAppendsRemoteEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	c := f.connect(t, "bob")
	f.clk.Add(90 * time.Minute)

	c.receive("hello")
	f.sync(t)
	entries := f.o.ChatLog().Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, "hello", last.Text)
	assert.Equal(t, domain.OriginRemote, last.Origin)
	assert.Equal(t, f.clk.Now(), last.Time)
	assert.Regexp(t, `^\d{2}:\d{2}$`, last.Stamp())
}

func TestConnectReplacesSessionAndDropsStaleEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	first := f.connect(t, "bob")
	second := f.connect(t, "carol")

	require.Eventually(t, first.isClosed, waitFor, tick)
	assert.EqualValues(t, "carol", f.state(t).Remote)

	n := f.o.ChatLog().Len()
	first.receive("from the past")
	f.sync(t)
	assert.Equal(t, n, f.o.ChatLog().Len())
	assert.Equal(t, "Connected to carol", f.o.status.Text())

	second.receive("now")
	f.sync(t)
	assert.Equal(t, n+1, f.o.ChatLog().Len())
}

func TestChatErrorShowsStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	c := f.connect(t, "bob")
	c.fail(errFake)
	f.sync(t)
	assert.Equal(t, "Connection error: boom", f.o.status.Text())
	assert.Equal(t, ui.KindError, f.o.status.Kind())
}

func TestIncomingConnectionPolicy(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	bob := f.connect(t, "bob")

	carol := newFakeData("carol")
	f.peer().incoming(carol)
	require.Eventually(t, bob.isClosed, waitFor, tick)
	f.sync(t)
	assert.EqualValues(t, "carol", f.state(t).Remote)
	assert.False(t, f.o.Document().Disabled(ui.RegionStartCall))

	carol.open()
	f.sync(t)
	assert.True(t, f.state(t).ChatOpen)

	require.NoError(t, f.o.do(f.ctx, func() { f.o.incomingConn = PolicyReject }))
	dave := newFakeData("dave")
	f.peer().incoming(dave)
	require.Eventually(t, dave.isClosed, waitFor, tick)
	f.sync(t)
	assert.False(t, carol.isClosed())
	assert.EqualValues(t, "carol", f.state(t).Remote)
}

func TestStartCallRequiresConnection(t *testing.T) {
	for name, capturer := range map[string]media.Capturer{
		"with microphone":    nil,
		"without microphone": denyCapturer(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, capturer)
			f.ready(t)
			require.NoError(t, f.o.StartCall(f.ctx))
			assert.Equal(t, "Must be connected to a peer first", f.o.status.Text())
			assert.Equal(t, ui.KindError, f.o.status.Kind())
			assert.Empty(t, f.peer().placed())
		})
	}
}

func TestStartCallPlacesCall(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")

	require.NoError(t, f.o.StartCall(f.ctx))
	calls := f.peer().placed()
	require.Len(t, calls, 1)
	assert.EqualValues(t, "bob", calls[0].remote)
	assert.NotNil(t, calls[0].stream)

	doc := f.o.Document()
	assert.Equal(t, "Calling bob...", f.o.status.Text())
	assert.Equal(t, ui.KindCalling, f.o.status.Kind())
	assert.Equal(t, "Calling...", f.o.status.CallText())
	assert.Equal(t, "Peer bob", f.text(ui.RegionCallPeerName))
	assert.Equal(t, "B", f.text(ui.RegionCallAvatar))
	assert.True(t, doc.HasClass(ui.RegionEndCall, "pulse"))
	assert.True(t, doc.HasClass(ui.RegionCallContainer, "active"))
	assert.Equal(t, CallRingingOut, f.state(t).Call)
}

func TestStartCallRequestsDeferredPermission(t *testing.T) {
	f := newFixture(t, denyFirst(1))
	f.ready(t)
	assert.Equal(t, permission.DeniedDeferred, f.o.perm.State())
	f.connect(t, "bob")

	require.NoError(t, f.o.StartCall(f.ctx))
	require.Eventually(t, func() bool {
		f.sync(t)
		return len(f.peer().placed()) == 1
	}, waitFor, tick)
	assert.Equal(t, permission.Granted, f.o.perm.State())
	assert.Equal(t, CallRingingOut, f.state(t).Call)
}

func TestStartCallPermissionDenied(t *testing.T) {
	f := newFixture(t, denyCapturer())
	f.ready(t)
	f.connect(t, "bob")

	require.NoError(t, f.o.StartCall(f.ctx))
	require.Eventually(t, func() bool {
		f.sync(t)
		return f.o.status.Text() == "Microphone access denied - can't make calls"
	}, waitFor, tick)
	assert.Equal(t, ui.KindError, f.o.status.Kind())

	// The trigger is one-shot.
	require.NoError(t, f.o.StartCall(f.ctx))
	assert.Equal(t, "Please allow microphone access...", f.o.status.Text())
	assert.Equal(t, ui.KindCalling, f.o.status.Kind())
	assert.Empty(t, f.peer().placed())
}

func TestCallTimerRunsWhileActive(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	call := f.activeCall(t)

	assert.Equal(t, "00:00", f.text(ui.RegionCallTimer))
	assert.Equal(t, "Call in progress", f.o.status.CallText())
	assert.False(t, f.o.Document().HasClass(ui.RegionEndCall, "pulse"))
	assert.True(t, f.player.Playing())

	f.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		f.sync(t)
		return f.text(ui.RegionCallTimer) == "00:01"
	}, waitFor, tick)

	require.NoError(t, f.o.Hangup(f.ctx))
	assert.Equal(t, "00:00", f.text(ui.RegionCallTimer))
	require.Eventually(t, call.isClosed, waitFor, tick)
	assert.False(t, f.player.Playing())
	assert.False(t, f.o.Document().HasClass(ui.RegionCallContainer, "active"))
	assert.Equal(t, CallIdle, f.state(t).Call)
}

func TestHangupIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)

	before := f.rec.count()
	require.NoError(t, f.o.Hangup(f.ctx))
	require.NoError(t, f.o.Hangup(f.ctx))
	assert.Equal(t, before, f.rec.count())
	assert.Equal(t, "00:00", f.text(ui.RegionCallTimer))
	assert.False(t, f.o.Document().HasClass(ui.RegionCallContainer, "active"))
}

func TestRemoteHangupEndsCall(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	call := f.activeCall(t)

	call.Close()
	f.sync(t)
	assert.Equal(t, "Call ended", f.o.status.CallText())
	assert.Equal(t, CallIdle, f.state(t).Call)
	assert.Equal(t, "00:00", f.text(ui.RegionCallTimer))
}

func TestCallErrorEndsCall(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	call := f.activeCall(t)

	call.fail(errFake)
	f.sync(t)
	assert.Equal(t, "Call error: boom", f.o.status.CallText())
	require.Eventually(t, call.isClosed, waitFor, tick)
	assert.Equal(t, CallIdle, f.state(t).Call)
}

func TestChatCloseHangsUpCall(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	chat := f.connect(t, "bob")
	call := f.activeCall(t)

	chat.Close()
	f.sync(t)
	require.Eventually(t, call.isClosed, waitFor, tick)
	assert.Equal(t, "Connection closed", f.o.status.Text())
	assert.Equal(t, "Not connected", f.text(ui.RegionChatPeerName))
	assert.Equal(t, "Offline", f.text(ui.RegionChatPeerStatus))
	assert.True(t, f.o.Document().Disabled(ui.RegionSend))

	s := f.state(t)
	assert.False(t, s.ChatOpen)
	assert.Equal(t, CallIdle, s.Call)
}

func TestToggleMuteTwiceRestoresTracks(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	stream := f.o.perm.Stream()
	require.NotNil(t, stream)
	tracks := stream.AudioTracks()
	require.NotEmpty(t, tracks)

	require.NoError(t, f.o.ToggleMute(f.ctx))
	for _, tr := range tracks {
		assert.False(t, tr.Enabled())
	}
	assert.Equal(t, "Unmute", f.text(ui.RegionMuteCall))
	assert.True(t, f.o.Document().HasClass(ui.RegionMuteCall, "muted"))
	assert.Equal(t, "You are muted", f.o.status.CallText())

	require.NoError(t, f.o.ToggleMute(f.ctx))
	for _, tr := range tracks {
		assert.True(t, tr.Enabled())
	}
	assert.Equal(t, "Mute", f.text(ui.RegionMuteCall))
	assert.False(t, f.o.Document().HasClass(ui.RegionMuteCall, "muted"))
	assert.Equal(t, "You are unmuted", f.o.status.CallText())
}

func TestToggleMuteWithoutStream(t *testing.T) {
	f := newFixture(t, denyCapturer())
	f.ready(t)
	require.NoError(t, f.o.ToggleMute(f.ctx))
	assert.False(t, f.state(t).Muted)
	assert.Equal(t, "Mute", f.text(ui.RegionMuteCall))
}

func TestIncomingCallAnswered(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)

	call := &fakeMedia{remote: "bob"}
	f.peer().ring(call)
	f.sync(t)

	stream, answers := call.answeredWith()
	assert.Equal(t, 1, answers)
	assert.Same(t, f.o.perm.Stream(), stream)
	assert.Equal(t, "Incoming call from bob", f.o.status.Text())
	assert.Equal(t, "Incoming call...", f.o.status.CallText())
	assert.Equal(t, CallRingingIn, f.state(t).Call)

	call.deliver()
	f.sync(t)
	assert.Equal(t, CallActive, f.state(t).Call)
	assert.Equal(t, "Call in progress", f.o.status.CallText())
}

func TestIncomingCallWithoutMicrophone(t *testing.T) {
	f := newFixture(t, denyCapturer())
	f.ready(t)

	call := &fakeMedia{remote: "bob"}
	f.peer().ring(call)
	require.Eventually(t, func() bool {
		f.sync(t)
		return call.isClosed()
	}, waitFor, tick)
	f.sync(t)

	_, answers := call.answeredWith()
	assert.Zero(t, answers)
	assert.Equal(t, "Can't answer call - no microphone access", f.o.status.Text())
	assert.Equal(t, ui.KindError, f.o.status.Kind())
	assert.False(t, f.o.Document().HasClass(ui.RegionCallContainer, "active"))
	assert.Equal(t, CallIdle, f.state(t).Call)
}

func TestSecondIncomingCallRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	first := f.activeCall(t)

	second := &fakeMedia{remote: "carol"}
	f.peer().ring(second)
	require.Eventually(t, second.isClosed, waitFor, tick)
	f.sync(t)
	assert.False(t, first.isClosed())
	s := f.state(t)
	assert.Equal(t, CallActive, s.Call)
	assert.EqualValues(t, "bob", s.CallRemote)
}

func TestReconnectBacksOffThenGivesUp(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	p := f.peer()
	p.mu.Lock()
	p.reconnectErr = errFake
	p.mu.Unlock()

	p.disconnect()
	f.sync(t)
	assert.Equal(t, "Disconnected. Trying to reconnect...", f.o.status.Text())
	assert.Equal(t, "Reconnecting", f.text(ui.RegionIndicatorText))
	assert.Zero(t, p.reconnectCount())

	require.Eventually(t, func() bool {
		f.clk.Add(time.Minute)
		f.sync(t)
		return f.o.status.Text() == "Offline"
	}, waitFor, tick)
	assert.Equal(t, 2, p.reconnectCount())
	assert.Equal(t, ui.KindError, f.o.status.Kind())
	assert.Equal(t, "Offline", f.text(ui.RegionIndicatorText))
}

func TestReconnectRestoresOnline(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	p := f.peer()

	p.disconnect()
	f.sync(t)
	require.Eventually(t, func() bool {
		f.clk.Add(time.Minute)
		f.sync(t)
		return f.o.status.Text() == "Ready to connect"
	}, waitFor, tick)
	assert.Equal(t, 1, p.reconnectCount())
	assert.Equal(t, "Online", f.text(ui.RegionIndicatorText))
}

func TestStartCallShowsPromptWhileRequestPending(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, gatedCapturer(release))
	f.ready(t)
	f.connect(t, "bob")

	require.NoError(t, f.o.StartCall(f.ctx))
	assert.Equal(t, "Please allow microphone access...", f.o.status.Text())
	assert.Equal(t, ui.KindCalling, f.o.status.Kind())
	assert.Empty(t, f.peer().placed())

	close(release)
	require.Eventually(t, func() bool {
		f.sync(t)
		return len(f.peer().placed()) == 1
	}, waitFor, tick)
	assert.Equal(t, "Calling bob...", f.o.status.Text())
}

func TestPeerOpenRetriesMicrophoneAfterDenial(t *testing.T) {
	f := newFixture(t, denyFirst(2))
	f.ready(t)
	assert.Equal(t, permission.DeniedDeferred, f.o.perm.State())
	f.connect(t, "bob")

	require.NoError(t, f.o.StartCall(f.ctx))
	require.Eventually(t, func() bool {
		f.sync(t)
		return f.o.status.Text() == "Microphone access denied - can't make calls"
	}, waitFor, tick)
	assert.Equal(t, permission.Denied, f.o.perm.State())
	assert.False(t, f.o.perm.Armed())

	require.NoError(t, f.o.RegenerateID(f.ctx))
	f.peer().open("fresh")
	require.Eventually(t, func() bool {
		f.sync(t)
		return f.state(t).HasStream
	}, waitFor, tick)
	assert.Equal(t, permission.Granted, f.o.perm.State())
}

func TestPeerOpenRearmsTriggerWhenStillDenied(t *testing.T) {
	f := newFixture(t, denyCapturer())
	f.ready(t)
	f.connect(t, "bob")
	require.NoError(t, f.o.StartCall(f.ctx))
	require.Eventually(t, func() bool {
		f.sync(t)
		return f.o.perm.State() == permission.Denied
	}, waitFor, tick)

	p := f.peer()
	p.disconnect()
	f.sync(t)
	require.Eventually(t, func() bool {
		f.clk.Add(time.Minute)
		f.sync(t)
		return f.o.perm.State() == permission.DeniedDeferred
	}, waitFor, tick)
	assert.True(t, f.o.perm.Armed())
}

func TestActiveCallReportsElapsed(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	assert.Zero(t, f.state(t).Elapsed)

	f.activeCall(t)
	assert.Zero(t, f.state(t).Elapsed)
	f.clk.Add(65 * time.Second)
	assert.Equal(t, 65*time.Second, f.state(t).Elapsed)

	require.NoError(t, f.o.Hangup(f.ctx))
	assert.Zero(t, f.state(t).Elapsed)
}

func TestLoopKeepsRunningWhileCloseBlocks(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t)
	f.connect(t, "bob")
	call := f.activeCall(t)
	call.blockClose()
	defer call.unblockClose()

	require.NoError(t, f.o.Hangup(f.ctx))
	f.sync(t)
	assert.Equal(t, CallIdle, f.state(t).Call)
	assert.False(t, call.isClosed())

	c := f.peer().lastDial()
	c.receive("still here")
	f.sync(t)
	entries := f.o.ChatLog().Entries()
	assert.Equal(t, "still here", entries[len(entries)-1].Text)

	call.unblockClose()
	require.Eventually(t, call.isClosed, waitFor, tick)
	f.sync(t)
	assert.Equal(t, CallIdle, f.state(t).Call)
}
