package bus

import "time"

// InboundMessage is a chat event received from the bridge.
type InboundMessage struct {
	Identity  string    `json:"identity"` // normalized phone, no network suffix
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Outbound message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
	KindLocation = "location"
)

// OutboundMessage is a message to be delivered to a contact through the
// bridge. Kind selects which payload fields are meaningful.
type OutboundMessage struct {
	Identity string  `json:"identity"`
	Kind     string  `json:"kind"`
	Text     string  `json:"text,omitempty"`
	Path     string  `json:"path,omitempty"` // local media file path
	FileName string  `json:"file_name,omitempty"`
	Caption  string  `json:"caption,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Long     float64 `json:"long,omitempty"`
}
