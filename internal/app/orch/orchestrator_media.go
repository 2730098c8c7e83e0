package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/ui"
)

// StartCall calls the peer on the open text channel. The first attempt after
// a failed silent capture asks for the microphone and calls once granted.
func (o *Orchestrator) StartCall(ctx context.Context) error {
	return o.do(ctx, o.startCall)
}

// Hangup ends the current call. Without a call it does nothing.
func (o *Orchestrator) Hangup(ctx context.Context) error {
	return o.do(ctx, o.hangup)
}

// ToggleMute flips every local audio track.
func (o *Orchestrator) ToggleMute(ctx context.Context) error {
	return o.do(ctx, o.toggleMute)
}

func (o *Orchestrator) startCall() {
	if o.session == nil || !o.session.Open {
		o.status.Update("Must be connected to a peer first", ui.KindError)
		return
	}
	if o.perm.Fire() {
		log.Info().Str("module", "orch").Msg("requesting microphone access")
		o.status.Update("Please allow microphone access...", ui.KindCalling)
		perm := o.perm
		o.spawn(func(ctx context.Context) func() {
			s, err := perm.Request(ctx)
			return func() { o.onMicrophoneRequested(s, err) }
		})
		return
	}
	if o.stream == nil {
		o.status.Update("Please allow microphone access...", ui.KindCalling)
		return
	}
	o.placeCall()
}

// onMicrophoneRequested places the call once access is granted, provided the
// text channel is still open.
func (o *Orchestrator) onMicrophoneRequested(s *media.Stream, err error) {
	if err != nil {
		o.status.Update("Microphone access denied - can't make calls", ui.KindError)
		return
	}
	o.adoptStream(s)
	if o.session == nil || !o.session.Open {
		return
	}
	o.placeCall()
}

func (o *Orchestrator) placeCall() {
	o.hangup()
	remote := o.session.Remote
	o.status.Update("Calling "+string(remote)+"...", ui.KindCalling)
	o.showCall(remote, "Calling...")

	conn, err := o.peer.Call(remote, o.stream)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("remote", string(remote)).Msg("call failed")
		o.hideCall()
		o.status.Update("Call error: "+err.Error(), ui.KindError)
		return
	}
	log.Info().Str("module", "orch").Str("remote", string(remote)).Msg("calling")
	o.bindCall(conn, CallRingingOut)
}

func (o *Orchestrator) onIncomingCall(gen int, conn core.MediaConnection) {
	if gen != o.peerGen {
		o.closeAsync(conn.Close)
		return
	}
	remote := conn.Peer()
	if o.call != nil {
		if o.incomingCall == PolicyReject {
			log.Info().Str("module", "orch").Str("remote", string(remote)).Msg("busy, rejecting call")
			o.closeAsync(conn.Close)
			return
		}
		o.hangup()
	}
	log.Info().Str("module", "orch").Str("remote", string(remote)).Msg("incoming call")
	o.status.Update("Incoming call from "+string(remote), ui.KindCalling)
	o.showCall(remote, "Incoming call...")
	o.bindCall(conn, CallRingingIn)

	if o.stream != nil {
		o.answer(conn)
		return
	}
	perm := o.perm
	o.spawn(func(ctx context.Context) func() {
		s, err := perm.Acquire(ctx)
		return func() { o.onAnswerStream(conn, s, err) }
	})
}

func (o *Orchestrator) onAnswerStream(conn core.MediaConnection, s *media.Stream, err error) {
	if err == nil {
		o.adoptStream(s)
	}
	if !o.currentCall(conn) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("no microphone for incoming call")
		o.hangup()
		o.status.Update("Can't answer call - no microphone access", ui.KindError)
		return
	}
	o.answer(conn)
}

func (o *Orchestrator) answer(conn core.MediaConnection) {
	if err := conn.Answer(o.stream); err != nil {
		o.onCallError(conn, err)
	}
}

func (o *Orchestrator) bindCall(conn core.MediaConnection, state CallState) {
	o.call = &CallSession{Remote: conn.Peer(), Conn: conn, State: state}
	conn.OnStream(func(s media.RemoteStream) { o.post(func() { o.onCallStream(conn, s) }) })
	conn.OnClose(func() { o.post(func() { o.onCallClose(conn) }) })
	conn.OnError(func(err error) { o.post(func() { o.onCallError(conn, err) }) })
}

func (o *Orchestrator) currentCall(conn core.MediaConnection) bool {
	return o.call != nil && o.call.Conn == conn
}

func (o *Orchestrator) onCallStream(conn core.MediaConnection, s media.RemoteStream) {
	if !o.currentCall(conn) {
		return
	}
	if o.call.State != CallActive {
		o.call.State = CallActive
		o.call.StartedAt = o.clock.Now()
		o.status.Call("Call in progress")
		o.doc.RemoveClass(ui.RegionEndCall, "pulse")
		o.timer.Start()
	}
	if err := o.player.Attach(o.ctx, s); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("attach remote stream")
	}
}

func (o *Orchestrator) onCallClose(conn core.MediaConnection) {
	if !o.currentCall(conn) {
		return
	}
	o.hangup()
	o.status.Call("Call ended")
}

func (o *Orchestrator) onCallError(conn core.MediaConnection, err error) {
	if !o.currentCall(conn) {
		return
	}
	log.Error().Err(err).Str("module", "orch").Msg("call error")
	o.hangup()
	o.status.Call("Call error: " + err.Error())
	o.status.Update("Call error: "+err.Error(), ui.KindError)
}

func (o *Orchestrator) hangup() {
	if o.call == nil {
		return
	}
	conn := o.call.Conn
	o.call = nil
	o.closeAsync(conn.Close)
	o.hideCall()
	o.timer.Stop()
	o.player.Detach()
	log.Info().Str("module", "orch").Msg("call ended")
}

func (o *Orchestrator) showCall(remote domain.PeerID, status string) {
	o.doc.SetText(ui.RegionCallPeerName, remote.DisplayName())
	o.doc.SetText(ui.RegionCallAvatar, remote.Initial())
	o.status.Call(status)
	o.doc.AddClass(ui.RegionEndCall, "pulse")
	o.doc.AddClass(ui.RegionCallContainer, "active")
}

func (o *Orchestrator) hideCall() {
	o.doc.RemoveClass(ui.RegionEndCall, "pulse")
	o.doc.RemoveClass(ui.RegionCallContainer, "active")
}

func (o *Orchestrator) toggleMute() {
	if o.stream == nil {
		return
	}
	o.muted = !o.muted
	for _, t := range o.stream.AudioTracks() {
		t.SetEnabled(!o.muted)
	}
	if o.muted {
		o.doc.SetText(ui.RegionMuteCall, "Unmute")
		o.doc.AddClass(ui.RegionMuteCall, "muted")
		o.status.Call("You are muted")
		return
	}
	o.doc.SetText(ui.RegionMuteCall, "Mute")
	o.doc.RemoveClass(ui.RegionMuteCall, "muted")
	o.status.Call("You are unmuted")
}
