package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelsim.ai/internal/protocol"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/encoding"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Config{WorldID: "obs", Edge: 4}, stream.NewMemStore(), nil)
	t.Cleanup(e.Close)
	return e
}

func TestHub_RingAndSince(t *testing.T) {
	h := NewHub(newEngine(t), 3, nil)
	for i := 1; i <= 5; i++ {
		h.publish(engine.Event{Kind: engine.EventTick, Tick: uint64(i), Result: &engine.TickResult{Tick: uint64(i), Shells: 1, Factor: 1}})
	}
	st := h.Stats()
	if st.Cursor != 5 || st.Buffered != 3 {
		t.Fatalf("stats=%+v", st)
	}

	items, next, truncated := h.Since(3, 0)
	if truncated || len(items) != 2 || items[0].Cursor != 4 || next != 5 {
		t.Fatalf("Since(3)=%v next=%d truncated=%v", items, next, truncated)
	}
	items, _, truncated = h.Since(0, 2)
	if !truncated || len(items) != 2 || items[0].Cursor != 3 {
		t.Fatalf("Since(0)=%v truncated=%v", items, truncated)
	}
	if items, _, _ := h.Since(5, 0); len(items) != 0 {
		t.Fatalf("Since(head)=%v", items)
	}
}

func TestHub_RegionFilter(t *testing.T) {
	h := NewHub(newEngine(t), 16, nil)
	s, _ := h.attach("s", protocol.HelloMsg{
		Subscribe: protocol.Subscribe{Activations: true},
		Region:    &protocol.Region{Min: [3]int32{0, 0, 0}, Max: [3]int32{1, 1, 1}},
	}, 8)
	h.publish(engine.Event{Kind: engine.EventActivation, Coord: spatial.ChunkCoord{X: 1}, Active: true})
	h.publish(engine.Event{Kind: engine.EventActivation, Coord: spatial.ChunkCoord{X: 5}, Active: true})
	h.publish(engine.Event{Kind: engine.EventTick, Result: &engine.TickResult{Tick: 1}})
	if len(s.out) != 1 {
		t.Fatalf("session got %d messages, want 1", len(s.out))
	}
	var m protocol.ActivationMsg
	if err := json.Unmarshal(<-s.out, &m); err != nil || m.Coord != [3]int32{1, 0, 0} || m.Cursor != 1 {
		t.Fatalf("msg=%+v err=%v", m, err)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, v any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal %s: %v", base.Type, err)
		}
	}
	return base.Type
}

func TestServer_FeedAndRequests(t *testing.T) {
	e := newEngine(t)
	c := spatial.ChunkCoord{X: 1}
	if err := e.LoadChunk(c); err != nil {
		t.Fatal(err)
	}
	if err := e.Edit(c, [3]int{0, 0, 1}, cell.New(1, cell.FlagAutomata)); err != nil {
		t.Fatal(err)
	}

	hub := NewHub(e, 64, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	s := NewServer(hub, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/ws", s.WSHandler())
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	hello := protocol.HelloMsg{
		Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test",
		Subscribe: protocol.Subscribe{Ticks: true, Diffs: true, Activations: true},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if typ := readMsg(t, conn, &welcome); typ != protocol.TypeWelcome {
		t.Fatalf("got %s want WELCOME", typ)
	}
	if welcome.WorldParams.ChunkEdge != 4 || welcome.WorldParams.Rule != "B5/S45" || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}

	// The hub subscribes asynchronously; step until a TICK arrives.
	deadline := time.Now().Add(5 * time.Second)
	for hub.Stats().Cursor == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub saw no events")
		}
		if _, err := e.StepOnce(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	sawTick := false
	for i := 0; i < 8 && !sawTick; i++ {
		if readMsg(t, conn, nil) == protocol.TypeTick {
			sawTick = true
		}
	}
	if !sawTick {
		t.Fatalf("no TICK on the feed")
	}

	if err := conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ProtocolVersion: protocol.Version, Coord: [3]int32{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	var chunkMsg protocol.ChunkMsg
	for {
		if readMsg(t, conn, &chunkMsg) == protocol.TypeChunk {
			break
		}
	}
	cells, err := encoding.DecodeRLEString(chunkMsg.RLE, 4*4*4)
	if err != nil || len(cells) != 64 {
		t.Fatalf("chunk cells=%d err=%v", len(cells), err)
	}

	if err := conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ProtocolVersion: protocol.Version, Coord: [3]int32{9, 9, 9}}); err != nil {
		t.Fatal(err)
	}
	var errMsg protocol.ErrorMsg
	for {
		if readMsg(t, conn, &errMsg) == protocol.TypeError {
			break
		}
	}
	if errMsg.Code != protocol.ErrNotResident {
		t.Fatalf("error code=%s", errMsg.Code)
	}

	if err := conn.WriteJSON(protocol.EventBatchReqMsg{Type: protocol.TypeEventBatchReq, ProtocolVersion: protocol.Version, ReqID: "r1"}); err != nil {
		t.Fatal(err)
	}
	var batch protocol.EventBatchMsg
	for {
		if readMsg(t, conn, &batch) == protocol.TypeEventBatch {
			break
		}
	}
	if batch.ReqID != "r1" || len(batch.Events) == 0 || batch.Events[0].Cursor != 1 {
		t.Fatalf("batch=%+v", batch)
	}

	resp, err := http.Get(srv.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var boot protocol.WelcomeMsg
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil || boot.WorldParams.WorldID != "obs" {
		t.Fatalf("bootstrap=%+v err=%v", boot, err)
	}
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	s := NewServer(NewHub(newEngine(t), 4, nil), nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", ClientName: "old"})
	var m protocol.ErrorMsg
	if typ := readMsg(t, conn, &m); typ != protocol.TypeError || m.Code != protocol.ErrProtoVersion {
		t.Fatalf("got %s %+v", typ, m)
	}
}
