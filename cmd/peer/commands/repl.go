package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/app/orch"
)

const help = `commands:
  /connect <peer-id>  open a chat with a peer
  /call               call the connected peer
  /hangup             end the call
  /mute               toggle the microphone
  /newid              drop the current id and get a new one
  /copy               copy your id to the clipboard
  /record             pause or resume recording received audio
  /status             show the session state
  /quit               leave
anything else is sent as a chat message`

// Session is the part of the orchestrator the prompt drives.
type Session interface {
	Connect(ctx context.Context, remote string) error
	Send(ctx context.Context, text string) error
	StartCall(ctx context.Context) error
	Hangup(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	RegenerateID(ctx context.Context) error
	CopyID(ctx context.Context) error
	State(ctx context.Context) (orch.Snapshot, error)
}

// Recorder controls writing received audio to disk.
type Recorder interface {
	Recording() bool
	SetRecording(on bool) bool
}

// readCommands runs until in is exhausted, /quit is read or ctx ends.
func readCommands(ctx context.Context, in io.Reader, s Session, rec Recorder, out io.Writer) {
	fmt.Fprintln(out, help)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		quit, err := dispatch(ctx, s, rec, scanner.Text(), out)
		if err != nil {
			log.Error().Err(err).Str("module", "cli").Msg("command failed")
			return
		}
		if quit {
			return
		}
	}
}

func dispatch(ctx context.Context, s Session, rec Recorder, line string, out io.Writer) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, s.Send(ctx, line)
	}
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch verb {
	case "/connect":
		return false, s.Connect(ctx, arg)
	case "/call":
		return false, s.StartCall(ctx)
	case "/hangup":
		return false, s.Hangup(ctx)
	case "/mute":
		return false, s.ToggleMute(ctx)
	case "/newid":
		return false, s.RegenerateID(ctx)
	case "/copy":
		return false, s.CopyID(ctx)
	case "/record":
		fmt.Fprintln(out, toggleRecording(rec))
		return false, nil
	case "/status":
		st, err := s.State(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, describe(st))
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, help)
		return false, nil
	}
	fmt.Fprintf(out, "unknown command %s, try /help\n", verb)
	return false, nil
}

func describe(s orch.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%s", s.ID)
	if s.Remote != "" {
		fmt.Fprintf(&b, " chat=%s open=%t", s.Remote, s.ChatOpen)
	}
	fmt.Fprintf(&b, " call=%s", s.Call)
	if s.CallRemote != "" {
		fmt.Fprintf(&b, " with=%s", s.CallRemote)
	}
	if s.Call == orch.CallActive {
		fmt.Fprintf(&b, " elapsed=%s", orch.FormatElapsed(s.Elapsed))
	}
	fmt.Fprintf(&b, " mic=%t muted=%t", s.HasStream, s.Muted)
	return b.String()
}

func toggleRecording(rec Recorder) string {
	if rec == nil {
		return "recording is off, start with --record-dir to enable it"
	}
	if rec.Recording() {
		rec.SetRecording(false)
		return "recording paused"
	}
	if !rec.SetRecording(true) {
		return "recording is off, start with --record-dir to enable it"
	}
	return "recording resumed"
}
