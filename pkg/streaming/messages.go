package streaming

import "encoding/json"

// Message type constants of the real-time channel.
const (
	TypeMapUpdate   = "map_update"
	TypeVideoFrame  = "video_frame"
	TypeStartStream = "start_stream"
	TypeConnected   = "connect_response"
)

// Envelope wraps all messages exchanged over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StartStreamPayload asks the backend to begin pushing frames and map data.
type StartStreamPayload struct {
	Quality string `json:"quality"`
}

// VideoFramePayload carries one base64 encoded JPEG still.
type VideoFramePayload struct {
	Frame string `json:"frame"`
}
