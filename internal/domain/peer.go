// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxPeerIDLen = 64
	shortIDLen   = 6
)

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
	ErrPeerIDInvalid = errors.New("peer id contains invalid characters")
)

// PeerID is the self-assigned address other peers use to reach this instance.
type PeerID string

// NewPeerID returns a fresh random identifier.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// ParsePeerID trims and validates user input.
func ParsePeerID(raw string) (PeerID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrPeerIDEmpty
	}
	if len(s) > MaxPeerIDLen {
		return "", ErrPeerIDTooLong
	}
	for _, r := range s {
		if !isIDRune(r) {
			return "", ErrPeerIDInvalid
		}
	}
	return PeerID(s), nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

func (id PeerID) String() string { return string(id) }

// Short is the first six characters, used in headers.
func (id PeerID) Short() string {
	if len(id) <= shortIDLen {
		return string(id)
	}
	return string(id[:shortIDLen])
}

// Initial is the upper-cased first character, used as an avatar.
func (id PeerID) Initial() string {
	if id == "" {
		return ""
	}
	return strings.ToUpper(string(id[:1]))
}

// DisplayName is how a remote peer is labelled in chat and call headers.
func (id PeerID) DisplayName() string {
	return "Peer " + id.Short()
}
