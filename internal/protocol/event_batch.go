package protocol

import "encoding/json"

// EVENT_BATCH_REQ (client -> server) asks for buffered feed messages after SinceCursor.
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
}

type EventBatchItem struct {
	Cursor uint64          `json:"cursor"`
	Msg    json.RawMessage `json:"msg"`
}

// EVENT_BATCH (server -> client). Truncated is set when the buffer no longer holds
// SinceCursor+1; the client should resync with CHUNK_REQ.
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
	Truncated       bool             `json:"truncated,omitempty"`
}
