package model

type (
	// ChatMessage is the encrypted envelope relayed between clients. The
	// server never inspects the ciphertext fields.
	ChatMessage struct {
		Channel   string `json:"channel"`
		Sender    string `json:"sender"`
		Message   string `json:"message"`
		ID        int64  `json:"id"`
		Timestamp int64  `json:"timestamp"`
		Image     string `json:"image,omitempty"`
		Audio     string `json:"audio,omitempty"`
		File      string `json:"file,omitempty"`
	}

	// MessageRequest is the POST /message body.
	MessageRequest struct {
		Message string `json:"message"`
		Sender  string `json:"sender"`
		Channel string `json:"channel"`
		Image   string `json:"image,omitempty"`
		Audio   string `json:"audio,omitempty"`
		File    string `json:"file,omitempty"`
	}

	// MessageResponse is the POST /message success body. DeliveredTo is
	// only present for group channels.
	MessageResponse struct {
		Message     string `json:"message"`
		ID          int64  `json:"id"`
		Timestamp   int64  `json:"timestamp"`
		DeliveredTo *int   `json:"deliveredTo,omitempty"`
	}
)

// HasContent reports whether the envelope carries at least one payload field.
func (r *MessageRequest) HasContent() bool {
	return r.Message != "" || r.Image != "" || r.Audio != ""
}
