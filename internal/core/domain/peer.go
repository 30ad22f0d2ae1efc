package domain

import "encoding/json"

type PeerID string
type ConnectionID string

// PeerRecord is created on admission and never mutated afterwards.
type PeerRecord struct {
	ConnectionID ConnectionID    `json:"socketId"`
	PeerID       PeerID          `json:"peerId"`
	PeerType     json.RawMessage `json:"peerType,omitempty"`
}

// Reserved addressing values used in router messages.
const (
	AddressAll PeerID = "all"
)
