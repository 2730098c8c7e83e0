// Package ui models the widget surface as named regions. Every text, class or
// enabled-state change is a Mutation fanned out to the registered sinks; the
// regions themselves keep the latest state so callers can read it back.
package ui

import (
	"sort"
	"strings"
	"sync"
)

type Region string

const (
	RegionPeerID         Region = "peer-id"
	RegionUserAvatar     Region = "user-avatar"
	RegionStatus         Region = "status"
	RegionIndicator      Region = "status-indicator"
	RegionIndicatorText  Region = "status-text"
	RegionChat           Region = "chat"
	RegionChatPeerName   Region = "chat-peer-name"
	RegionChatPeerStatus Region = "chat-peer-status"
	RegionMessage        Region = "message"
	RegionSend           Region = "send"
	RegionStartCall      Region = "start-call"
	RegionEndCall        Region = "end-call"
	RegionMuteCall       Region = "mute-call"
	RegionCallContainer  Region = "call-container"
	RegionCallStatus     Region = "call-status"
	RegionCallTimer      Region = "call-timer"
	RegionCallPeerName   Region = "call-peer-name"
	RegionCallAvatar     Region = "call-avatar"
	RegionAlert          Region = "alert"
)

type MutationKind int

const (
	SetText MutationKind = iota
	SetClasses
	SetDisabled
	Append
	Scroll
	Alert
)

// Mutation is one rendered change.
type Mutation struct {
	Region   Region
	Kind     MutationKind
	Text     string
	Classes  []string
	Disabled bool
}

// Sink receives mutations in the order they were applied.
type Sink interface {
	Apply(Mutation)
}

type element struct {
	text     string
	classes  map[string]struct{}
	disabled bool
}

// Document is a threadsafe set of regions.
type Document struct {
	mu    sync.RWMutex
	elems map[Region]*element
	sinks []Sink
}

func NewDocument(sinks ...Sink) *Document {
	return &Document{
		elems: make(map[Region]*element),
		sinks: sinks,
	}
}

// AddSink registers another renderer.
func (d *Document) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

func (d *Document) elem(r Region) *element {
	e, ok := d.elems[r]
	if !ok {
		e = &element{classes: make(map[string]struct{})}
		d.elems[r] = e
	}
	return e
}

func (d *Document) emit(m Mutation) {
	for _, s := range d.sinks {
		s.Apply(m)
	}
}

func (d *Document) SetText(r Region, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elem(r).text = text
	d.emit(Mutation{Region: r, Kind: SetText, Text: text})
}

// SetClass replaces the class list; classes are space separated.
func (d *Document) SetClass(r Region, classes string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.elem(r)
	e.classes = make(map[string]struct{})
	for _, c := range strings.Fields(classes) {
		e.classes[c] = struct{}{}
	}
	d.emit(Mutation{Region: r, Kind: SetClasses, Classes: sortedClasses(e)})
}

func (d *Document) AddClass(r Region, class string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.elem(r)
	if _, ok := e.classes[class]; ok {
		return
	}
	e.classes[class] = struct{}{}
	d.emit(Mutation{Region: r, Kind: SetClasses, Classes: sortedClasses(e)})
}

func (d *Document) RemoveClass(r Region, class string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.elem(r)
	if _, ok := e.classes[class]; !ok {
		return
	}
	delete(e.classes, class)
	d.emit(Mutation{Region: r, Kind: SetClasses, Classes: sortedClasses(e)})
}

func (d *Document) SetDisabled(r Region, disabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.elem(r)
	if e.disabled == disabled {
		return
	}
	e.disabled = disabled
	d.emit(Mutation{Region: r, Kind: SetDisabled, Disabled: disabled})
}

// AppendChild renders an appended child of r, e.g. a chat bubble.
func (d *Document) AppendChild(r Region, text string, classes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elem(r)
	d.emit(Mutation{Region: r, Kind: Append, Text: text, Classes: classes})
}

func (d *Document) ScrollToBottom(r Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(Mutation{Region: r, Kind: Scroll})
}

// Alert is the one blocking notice the widget shows.
func (d *Document) Alert(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elem(RegionAlert).text = text
	d.emit(Mutation{Region: RegionAlert, Kind: Alert, Text: text})
}

func (d *Document) Text(r Region) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.elems[r]; ok {
		return e.text
	}
	return ""
}

func (d *Document) HasClass(r Region, class string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.elems[r]; ok {
		_, has := e.classes[class]
		return has
	}
	return false
}

func (d *Document) Classes(r Region) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.elems[r]; ok {
		return sortedClasses(e)
	}
	return nil
}

func (d *Document) Disabled(r Region) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.elems[r]; ok {
		return e.disabled
	}
	return false
}

func sortedClasses(e *element) []string {
	out := make([]string, 0, len(e.classes))
	for c := range e.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
