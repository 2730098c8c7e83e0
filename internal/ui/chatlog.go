package ui

import (
	"sync"
	"time"

	"github.com/dkeye/peerline/internal/domain"
)

// ChatLog is the append-only transcript. Nothing is ever pruned.
type ChatLog struct {
	doc *Document
	now func() time.Time

	mu      sync.RWMutex
	entries []domain.Entry
}

func NewChatLog(doc *Document, now func() time.Time) *ChatLog {
	if now == nil {
		now = time.Now
	}
	return &ChatLog{doc: doc, now: now}
}

// Append renders a local or remote bubble with an HH:MM stamp.
func (c *ChatLog) Append(text string, origin domain.Origin) domain.Entry {
	e := domain.Entry{Text: text, Origin: origin, Time: c.now()}
	c.push(e)
	c.doc.AppendChild(RegionChat, text, "message", "message-"+string(origin), "time:"+e.Stamp())
	c.doc.ScrollToBottom(RegionChat)
	return e
}

// AppendSystem renders a system notice.
func (c *ChatLog) AppendSystem(text string) domain.Entry {
	e := domain.Entry{Text: text, Origin: domain.OriginSystem, Time: c.now()}
	c.push(e)
	c.doc.AppendChild(RegionChat, text, "message-system")
	c.doc.ScrollToBottom(RegionChat)
	return e
}

func (c *ChatLog) push(e domain.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Entries returns a copy of the transcript.
func (c *ChatLog) Entries() []domain.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *ChatLog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
