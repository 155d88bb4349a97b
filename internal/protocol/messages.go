package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ClientName      string    `json:"client_name"`
	Subscribe       Subscribe `json:"subscribe"`
	// Region limits DIFF and ACTIVATION messages to an inclusive chunk box.
	Region *Region `json:"region,omitempty"`
}

type Subscribe struct {
	Ticks       bool `json:"ticks,omitempty"`
	Diffs       bool `json:"diffs,omitempty"`
	Activations bool `json:"activations,omitempty"`
}

type Region struct {
	Min [3]int32 `json:"min"`
	Max [3]int32 `json:"max"`
}

func (r *Region) Contains(c [3]int32) bool {
	if r == nil {
		return true
	}
	for i := 0; i < 3; i++ {
		if c[i] < r.Min[i] || c[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Tick            uint64      `json:"tick"`
	Cursor          uint64      `json:"cursor"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	WorldID    string `json:"world_id"`
	Seed       int64  `json:"seed"`
	ChunkEdge  int    `json:"chunk_edge"`
	Rule       string `json:"rule"`
	TickRateHz int    `json:"tick_rate_hz"`
}

// TICK (server -> client)
type TickMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Cursor          uint64  `json:"cursor"`
	Tick            uint64  `json:"tick"`
	Digest          string  `json:"digest"`
	Shells          int     `json:"shells"`
	Factor          float64 `json:"factor"`
	Stepped         int     `json:"stepped"`
	Changed         int     `json:"changed"`
}

// DIFF (server -> client). Each range carries base64 RLE of packed cells.
type DiffMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Cursor          uint64      `json:"cursor"`
	Tick            uint64      `json:"tick"`
	Coord           [3]int32    `json:"coord"`
	Ranges          []DiffRange `json:"ranges"`
}

type DiffRange struct {
	Start int    `json:"start"`
	Count int    `json:"count"`
	RLE   string `json:"rle"`
}

// ACTIVATION (server -> client)
type ActivationMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Cursor          uint64   `json:"cursor"`
	Tick            uint64   `json:"tick"`
	Coord           [3]int32 `json:"coord"`
	Active          bool     `json:"active"`
	Evicted         bool     `json:"evicted,omitempty"`
}

// CHUNK_REQ (client -> server)
type ChunkReqMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Coord           [3]int32 `json:"coord"`
}

// CHUNK (server -> client)
type ChunkMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Coord           [3]int32 `json:"coord"`
	Edge            int      `json:"edge"`
	RLE             string   `json:"rle"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// NewError maps unknown codes to E_INTERNAL.
func NewError(code, msg string) ErrorMsg {
	if code == "" || !IsKnownCode(code) {
		code = ErrInternal
	}
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
