package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelsim.ai/internal/protocol"
	"voxelsim.ai/internal/sim/encoding"
	"voxelsim.ai/internal/sim/spatial"
)

type Server struct {
	hub *Hub
	src Source
	log *log.Logger

	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	// SessionBuffer is the per-session feed queue; a full queue drops messages.
	SessionBuffer int

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, logger *log.Logger) *Server {
	return &Server{
		hub:           hub,
		src:           hub.src,
		log:           logger,
		SessionBuffer: 4096,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) worldParams() protocol.WorldParams {
	cfg := s.src.Config()
	return protocol.WorldParams{
		WorldID:    cfg.WorldID,
		Seed:       cfg.Seed,
		ChunkEdge:  cfg.Edge,
		Rule:       cfg.Rule.String(),
		TickRateHz: cfg.TickRateHz,
	}
}

// BootstrapHandler serves world parameters and the current feed cursor as JSON.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       "bootstrap",
			Tick:            s.src.Tick(),
			Cursor:          s.hub.Stats().Cursor,
			WorldParams:     s.worldParams(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send HELLO first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hello protocol.HelloMsg
		if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
			closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
			return
		}
		if hello.ProtocolVersion != protocol.Version {
			b, _ := json.Marshal(protocol.NewError(protocol.ErrProtoVersion, "want protocol "+protocol.Version))
			_ = conn.WriteMessage(websocket.TextMessage, b)
			closeWith(conn, websocket.ClosePolicyViolation, "protocol version")
			return
		}

		sid := uuid.NewString()
		sess, cursor := s.hub.attach(sid, hello, s.SessionBuffer)
		defer s.hub.detach(sid)

		welcome, _ := json.Marshal(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			Tick:            s.src.Tick(),
			Cursor:          cursor,
			WorldParams:     s.worldParams(),
		})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			return
		}
		s.logf("observer session=%s client=%q ticks=%v diffs=%v activations=%v", sid, hello.ClientName,
			hello.Subscribe.Ticks, hello.Subscribe.Diffs, hello.Subscribe.Activations)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		replies := make(chan []byte, 16)
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-replies:
				case b = <-sess.out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: CHUNK_REQ and EVENT_BATCH_REQ.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(msg)
			if reply == nil {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				s.logf("observer session=%s reply dropped", sid)
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		if d := sess.dropped.Load(); d > 0 {
			s.logf("observer session=%s closed dropped=%d", sid, d)
		}
	}
}

func (s *Server) handle(msg []byte) []byte {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorReply(protocol.ErrProtoBadRequest, "bad json")
	}
	switch base.Type {
	case protocol.TypeChunkReq:
		var req protocol.ChunkReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return errorReply(protocol.ErrProtoBadRequest, "bad CHUNK_REQ")
		}
		c := spatial.ChunkCoord{X: req.Coord[0], Y: req.Coord[1], Z: req.Coord[2]}
		tick := s.src.Tick()
		cells, ok := s.src.ChunkCells(c)
		if !ok {
			return errorReply(protocol.ErrNotResident, "chunk "+c.String()+" not resident")
		}
		b, _ := json.Marshal(protocol.ChunkMsg{
			Type:            protocol.TypeChunk,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			Coord:           req.Coord,
			Edge:            s.src.Config().Edge,
			RLE:             encoding.EncodeRLEString(cells),
		})
		return b
	case protocol.TypeEventBatchReq:
		var req protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return errorReply(protocol.ErrProtoBadRequest, "bad EVENT_BATCH_REQ")
		}
		if req.Limit <= 0 || req.Limit > 1000 {
			req.Limit = 1000
		}
		items, next, truncated := s.hub.Since(req.SinceCursor, req.Limit)
		if items == nil {
			items = []protocol.EventBatchItem{}
		}
		b, _ := json.Marshal(protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Events:          items,
			NextCursor:      next,
			Truncated:       truncated,
		})
		return b
	default:
		return errorReply(protocol.ErrBadRequest, "unsupported message type "+base.Type)
	}
}

func errorReply(code, msg string) []byte {
	b, _ := json.Marshal(protocol.NewError(code, msg))
	return b
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
