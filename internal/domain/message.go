package domain

import "time"

// Origin tells who produced a chat entry.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginSystem Origin = "system"
)

// Entry is one line of the chat transcript.
type Entry struct {
	Text   string    `json:"text"`
	Origin Origin    `json:"origin"`
	Time   time.Time `json:"time"`
}

// Stamp renders the entry time as HH:MM.
func (e Entry) Stamp() string {
	return e.Time.Format("15:04")
}
