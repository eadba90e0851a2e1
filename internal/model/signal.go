package model

import "encoding/json"

// Signal description types carried inside a SessionSignal.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

type (
	// SessionSignal is one WebRTC signaling message. The server forwards it
	// verbatim to the other channel members.
	SessionSignal struct {
		Description SignalDescription `json:"description"`
		Sender      string            `json:"sender"`
		ChannelID   string            `json:"channelId"`
	}

	// SignalDescription is either an SDP offer/answer or a single trickle
	// ICE candidate. Candidate stays opaque to the server.
	SignalDescription struct {
		Type      string          `json:"type"`
		SDP       string          `json:"sdp,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}
)
