package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// Terminal prints the mutations a person needs to follow the session. Region
// state that only matters to a graphical surface, like classes on buttons, is
// not printed. The call timer is printed on whole minutes and once more with
// the final duration when it resets.
type Terminal struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	timer string
}

// NewTerminal writes to stdout, with colors only when stdout is a terminal.
func NewTerminal(wantColor bool) *Terminal {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return &Terminal{out: colorable.NewColorableStdout(), color: wantColor && tty}
}

// NewPlainTerminal writes uncolored lines to w.
func NewPlainTerminal(w io.Writer) *Terminal {
	return &Terminal{out: w}
}

func (t *Terminal) paint(color, s string) string {
	if !t.color || color == "" {
		return s
	}
	return color + s + ansiReset
}

func (t *Terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}

func (t *Terminal) Apply(m Mutation) {
	switch {
	case m.Kind == Alert:
		t.println(t.paint(ansiRed, "!! "+m.Text))
	case m.Kind == Append && m.Region == RegionChat:
		t.println(t.chatLine(m))
	case m.Kind == SetText && m.Region == RegionStatus:
		t.println(t.paint(ansiYellow, "[status] "+m.Text))
	case m.Kind == SetText && m.Region == RegionCallStatus && m.Text != "":
		t.println(t.paint(ansiCyan, "[call] "+m.Text))
	case m.Kind == SetText && m.Region == RegionPeerID && m.Text != "":
		t.println(t.paint(ansiGreen, "[id] "+m.Text))
	case m.Kind == SetText && m.Region == RegionCallTimer:
		t.callTimer(m.Text)
	}
}

func (t *Terminal) callTimer(text string) {
	t.mu.Lock()
	last := t.timer
	t.timer = text
	t.mu.Unlock()
	switch {
	case text == "00:00" && last != "" && last != "00:00":
		t.println(t.paint(ansiCyan, "[call] lasted "+last))
	case text != "00:00" && strings.HasSuffix(text, ":00"):
		t.println(t.paint(ansiCyan, "[call] "+text))
	}
}

func (t *Terminal) chatLine(m Mutation) string {
	var origin, stamp string
	for _, c := range m.Classes {
		switch {
		case c == "message-system":
			return t.paint(ansiGray, "* "+m.Text)
		case strings.HasPrefix(c, "time:"):
			stamp = strings.TrimPrefix(c, "time:")
		case strings.HasPrefix(c, "message-"):
			origin = strings.TrimPrefix(c, "message-")
		}
	}
	if origin == "local" {
		return t.paint(ansiGreen, fmt.Sprintf("%s me: ", stamp)) + m.Text
	}
	return t.paint(ansiCyan, fmt.Sprintf("%s peer: ", stamp)) + m.Text
}
