package signaling

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeDescription MessageType = "description"
	MsgTypeBye         MessageType = "bye"
)

// Message is the JSON structure exchanged over the WebSocket. Description
// carries the encoded {type, sdp} text unchanged, so both media move the same
// blob an operator would otherwise paste.
type Message struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description,omitempty"`
}
