package orch

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FormatElapsed renders d as MM:SS. Minutes keep counting past 59.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// CallTimer ticks once a second while a call is active. Ticks are handed to
// post so rendering happens on the caller's goroutine.
type CallTimer struct {
	clock  clock.Clock
	post   func(func())
	render func(string)

	mu      sync.Mutex
	ticker  *clock.Ticker
	stop    chan struct{}
	gen     int
	started time.Time
}

func NewCallTimer(clk clock.Clock, post func(func()), render func(string)) *CallTimer {
	return &CallTimer{clock: clk, post: post, render: render}
}

// Start restarts the count from zero.
func (t *CallTimer) Start() {
	t.mu.Lock()
	t.halt()
	t.gen++
	gen := t.gen
	t.started = t.clock.Now()
	ticker := t.clock.Ticker(time.Second)
	stop := make(chan struct{})
	t.ticker, t.stop = ticker, stop
	t.mu.Unlock()

	t.render(FormatElapsed(0))
	go t.loop(gen, ticker, stop)
}

func (t *CallTimer) loop(gen int, ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.post(func() { t.tick(gen) })
		}
	}
}

func (t *CallTimer) tick(gen int) {
	t.mu.Lock()
	if gen != t.gen || t.ticker == nil {
		t.mu.Unlock()
		return
	}
	elapsed := t.clock.Since(t.started)
	t.mu.Unlock()
	t.render(FormatElapsed(elapsed))
}

// Stop cancels the ticker and shows 00:00.
func (t *CallTimer) Stop() {
	t.mu.Lock()
	t.halt()
	t.gen++
	t.mu.Unlock()
	t.render(FormatElapsed(0))
}

// Running reports whether a ticker is active.
func (t *CallTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker != nil
}

func (t *CallTimer) halt() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.stop)
	t.ticker, t.stop = nil, nil
}
