package model

import "encoding/json"

// EventKind enumerates every event that crosses the transport, replacing
// loose string topics with a single variant type.
type EventKind string

const (
	// client -> server
	EventChatJoin  EventKind = "chat-join"
	EventGroupJoin EventKind = "group-join"
	EventReceived  EventKind = "received"

	// server -> client
	EventChatMessage      EventKind = "chat-message"
	EventLimitReached     EventKind = "limit-reached"
	EventDelivered        EventKind = "delivered"
	EventAliceJoin        EventKind = "on-alice-join"
	EventAliceDisconnect  EventKind = "on-alice-disconnect"
	EventMemberJoin       EventKind = "on-member-join"
	EventMemberLeave      EventKind = "on-member-leave"
	EventMemberListUpdate EventKind = "member-list-update"
	EventModeChanged      EventKind = "channel-mode-update"

	// bidirectional
	EventWebRTCSession EventKind = "webrtc-session-description"
)

type (
	// Frame is one JSON message on the websocket.
	Frame struct {
		Event EventKind       `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}

	ChatJoinPayload struct {
		UserID    string `json:"userID"`
		ChannelID string `json:"channelID"`
		PublicKey string `json:"publicKey"`
	}

	GroupJoinPayload struct {
		UserID    string `json:"userID"`
		ChannelID string `json:"channelID"`
		PublicKey string `json:"publicKey"`
		UserName  string `json:"userName"`
	}

	ReceivedPayload struct {
		Channel string `json:"channel"`
		Sender  string `json:"sender"`
		ID      int64  `json:"id"`
	}

	AliceJoinPayload struct {
		PublicKey string `json:"publicKey"`
	}

	// Field names mirror the public wire protocol.
	MemberJoinPayload struct {
		OderID    string `json:"oderId"`
		OdernName string `json:"odernName,omitempty"`
		PublicKey string `json:"publicKey,omitempty"`
	}

	MemberLeavePayload struct {
		UserID string `json:"userId"`
	}

	MemberListPayload struct {
		Members []string `json:"members"`
		Count   int      `json:"count"`
	}

	ModeChangedPayload struct {
		Mode ChannelMode `json:"mode"`
	}
)

// NewFrame marshals data into a Frame for kind. Marshal failures are
// programming errors and reported by the transport write instead.
func NewFrame(kind EventKind, data any) (*Frame, error) {
	if data == nil {
		return &Frame{Event: kind}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Event: kind, Data: raw}, nil
}
