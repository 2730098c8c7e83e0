package ui

// Status classes.
const (
	KindNone      = ""
	KindError     = "error"
	KindConnected = "connected"
	KindCalling   = "calling"
)

// StatusReporter renders connectivity and call state strings.
type StatusReporter struct {
	doc *Document
}

func NewStatusReporter(doc *Document) *StatusReporter {
	return &StatusReporter{doc: doc}
}

// Update sets the status banner; kind is one of the Kind* classes.
func (s *StatusReporter) Update(message, kind string) {
	s.doc.SetText(RegionStatus, message)
	if kind == KindNone {
		s.doc.SetClass(RegionStatus, "status-message")
		return
	}
	s.doc.SetClass(RegionStatus, "status-message "+kind)
}

// Indicator sets the connectivity dot and its label. online toggles the
// "online" class.
func (s *StatusReporter) Indicator(text string, online bool) {
	if online {
		s.doc.SetClass(RegionIndicator, "status-indicator online")
	} else {
		s.doc.SetClass(RegionIndicator, "status-indicator")
	}
	s.doc.SetText(RegionIndicatorText, text)
}

// Call sets the call panel status line.
func (s *StatusReporter) Call(message string) {
	s.doc.SetText(RegionCallStatus, message)
}

func (s *StatusReporter) Text() string     { return s.doc.Text(RegionStatus) }
func (s *StatusReporter) CallText() string { return s.doc.Text(RegionCallStatus) }

// Kind returns the current status class, or KindNone.
func (s *StatusReporter) Kind() string {
	for _, k := range []string{KindError, KindConnected, KindCalling} {
		if s.doc.HasClass(RegionStatus, k) {
			return k
		}
	}
	return KindNone
}
