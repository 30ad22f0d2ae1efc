package domain

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventReady      = "ready"
	EventMessage    = "message"
	EventMessageOne = "messageOne"
	EventCountdown  = "countdown"
	EventClock      = "clock"
	EventPing       = "ping"
)

// Outbound-only event names.
const (
	EventUniquenessError = "uniquenessError"
	EventError           = "error"
)

// Router message types carried in the "type" field of outbound messages.
const (
	MessageTypeReady      = "ready"
	MessageTypeDisconnect = "disconnect"
	MessageTypeClock      = "clock"
	MessageTypeCountdown  = "countdown"
)

const (
	ActionOpen  = "open"
	ActionClose = "close"
)

const DepartureReason = "Peer has left the signaling server"

// Envelope is the frame exchanged with clients. Data is never interpreted
// for relayed events.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoutedMessage is the {type, from, target, payload} shape emitted by the router.
type RoutedMessage struct {
	Type    string      `json:"type"`
	From    PeerID      `json:"from"`
	Target  PeerID      `json:"target"`
	Payload interface{} `json:"payload"`
}

type OpenPayload struct {
	Action      string        `json:"action"`
	Connections []*PeerRecord `json:"connections"`
	BePolite    bool          `json:"bePolite"`
}

type ClosePayload struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

type ClockMessage struct {
	Type   string    `json:"type"`
	Server time.Time `json:"server"`
}

type CountdownMessage struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	OutOf      int    `json:"outOf"`
	IntervalMs int    `json:"intervalMs"`
}

type UniquenessError struct {
	Message string `json:"message"`
}

type ProbePing struct {
	ServerTime time.Time `json:"serverTime"`
	Counter    int64     `json:"counter"`
}

type ReadyRequest struct {
	PeerID   PeerID          `json:"peerId"`
	PeerType json.RawMessage `json:"peerType"`
}

// UnmarshalJSON accepts both {"peerId":..,"peerType":..} and [peerId, peerType].
func (r *ReadyRequest) UnmarshalJSON(data []byte) error {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err == nil {
		if len(args) == 0 {
			return ErrMalformedPayload
		}
		if err := json.Unmarshal(args[0], &r.PeerID); err != nil {
			return ErrMalformedPayload
		}
		if len(args) > 1 {
			r.PeerType = args[1]
		}
		return nil
	}

	type plain ReadyRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ReadyRequest(p)
	return nil
}

type CountdownRequest struct {
	OutOf      *int `json:"outOf"`
	IntervalMs *int `json:"intervalMs"`
}

// TargetedMessage extracts the target of a messageOne payload; the rest of
// the payload is relayed untouched.
type TargetedMessage struct {
	Target PeerID `json:"target"`
}
