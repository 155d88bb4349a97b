package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/spatial"
)

func samplePayload(seed int64) Payload {
	rng := rand.New(rand.NewSource(seed))
	const edge = 8
	cells := make([]cell.Cell, edge*edge*edge)
	for i := range cells {
		switch rng.Intn(4) {
		case 0:
			cells[i] = cell.New(1, cell.FlagAutomata)
		case 1:
			cells[i] = cell.New(uint8(rng.Intn(255)+1), 0)
		}
	}
	return Payload{
		Coord:       spatial.ChunkCoord{X: -3, Y: 7, Z: 1 << 19},
		Tick:        12345,
		Accumulator: 7*time.Millisecond + 13,
		Edge:        edge,
		Cells:       cells,
	}
}

func samePayload(t *testing.T, got, want Payload) {
	t.Helper()
	if got.Coord != want.Coord || got.Tick != want.Tick || got.Accumulator != want.Accumulator || got.Edge != want.Edge {
		t.Fatalf("metadata mismatch: got %+v want %+v", got.Coord, want.Coord)
	}
	if len(got.Cells) != len(want.Cells) {
		t.Fatalf("cells len %d want %d", len(got.Cells), len(want.Cells))
	}
	for i := range want.Cells {
		if got.Cells[i] != want.Cells[i] {
			t.Fatalf("cell %d: got %#x want %#x", i, got.Cells[i], want.Cells[i])
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		p := samplePayload(seed)
		b, err := Marshal(p)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		samePayload(t, got, p)
	}
}

func TestPayloadCorruption(t *testing.T) {
	b, err := Marshal(samplePayload(9))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	cases := map[string][]byte{
		"empty":     nil,
		"truncated": b[:len(b)/2],
		"garbage":   []byte("not a zstd frame at all"),
	}
	flipped := append([]byte(nil), b...)
	flipped[len(flipped)/2] ^= 0xFF
	cases["flipped"] = flipped
	for name, raw := range cases {
		if _, err := Unmarshal(raw); !errors.Is(err, ErrCorruptPayload) {
			t.Fatalf("%s: expected ErrCorruptPayload, got %v", name, err)
		}
	}
	bad := samplePayload(1)
	bad.Cells = bad.Cells[:10]
	if _, err := Marshal(bad); err == nil {
		t.Fatalf("expected encode error for wrong cell count")
	}
}

func rawPayload(t *testing.T, h header, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := json.Marshal(h)
	enc.Write(append(hb, '\n'))
	enc.Write(body)
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPayloadHeaderCannotForceLargeAllocation(t *testing.T) {
	// one varint pair: cell 0, run 1
	body := []byte{0x00, 0x01}
	cases := map[string]header{
		"edge over limit": {Version: payloadVersion, Edge: 1024, Cells: 1024 * 1024 * 1024},
		"edge at limit":   {Version: payloadVersion, Edge: MaxEdge, Cells: MaxEdge * MaxEdge * MaxEdge},
	}
	for name, h := range cases {
		raw := rawPayload(t, h, body)
		var before, after runtime.MemStats
		runtime.GC()
		runtime.ReadMemStats(&before)
		_, err := Unmarshal(raw)
		runtime.ReadMemStats(&after)
		if !errors.Is(err, ErrCorruptPayload) {
			t.Fatalf("%s: expected ErrCorruptPayload, got %v", name, err)
		}
		if delta := after.TotalAlloc - before.TotalAlloc; delta > 16<<20 {
			t.Fatalf("%s: decoding %dB allocated %d bytes", name, len(raw), delta)
		}
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	p := samplePayload(3)
	if _, err := fs.Load(ctx, p.Coord); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := fs.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load(ctx, p.Coord)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	samePayload(t, got, p)

	if err := os.WriteFile(filepath.Join(dir, "-3_7_524288.chunk.zst"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fs.Load(ctx, p.Coord); !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got %v", err)
	}
	if err := fs.Delete(ctx, p.Coord); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := fs.Delete(ctx, p.Coord); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	base, top := NewMemStore(), NewMemStore()
	p := samplePayload(5)
	if err := base.Save(ctx, p); err != nil {
		t.Fatal(err)
	}
	o := Overlay{Top: top, Base: base}
	got, err := o.Load(ctx, p.Coord)
	if err != nil {
		t.Fatalf("Load from base: %v", err)
	}
	samePayload(t, got, p)

	q := samplePayload(5)
	q.Tick = 1
	if err := o.Save(ctx, q); err != nil {
		t.Fatal(err)
	}
	if got, _ := o.Load(ctx, p.Coord); got.Tick != 1 {
		t.Fatalf("overlay did not prefer top")
	}
	if got, _ := base.Load(ctx, p.Coord); got.Tick != p.Tick {
		t.Fatalf("base modified")
	}
	if err := o.Delete(ctx, p.Coord); err != nil || base.Len() != 1 {
		t.Fatalf("delete err=%v base=%d", err, base.Len())
	}
	if _, err := o.Load(ctx, spatial.ChunkCoord{X: 99}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPlan(t *testing.T) {
	s := NewStreamer(Config{LoadRadius: 1, EvictRadius: 2}, NewMemStore(), nil)
	focus := spatial.ChunkCoord{}
	resident := []spatial.ChunkCoord{
		{},            // keep
		{X: 2},        // inactive beyond load radius: evict
		{X: -2, Y: 1}, // active within evict radius: keep
		{X: 3},        // beyond evict radius: evict
	}
	active := func(c spatial.ChunkCoord) bool { return c.X != 2 }
	load, evict := s.Plan(focus, resident, active)
	if len(load) != 26 {
		t.Fatalf("load=%d want 26", len(load))
	}
	if len(evict) != 2 {
		t.Fatalf("evict=%v", evict)
	}
	for i := 1; i < len(load); i++ {
		if spatial.EncodeMorton(load[i-1]) >= spatial.EncodeMorton(load[i]) {
			t.Fatalf("loads not in Morton order")
		}
	}
}

// gateStore blocks Save until released.
type gateStore struct {
	*MemStore
	gate chan struct{}
}

func (g *gateStore) Save(ctx context.Context, p Payload) error {
	<-g.gate
	return g.MemStore.Save(ctx, p)
}

func TestEvictServesInFlightPayload(t *testing.T) {
	gs := &gateStore{MemStore: NewMemStore(), gate: make(chan struct{})}
	s := NewStreamer(Config{}, gs, nil)
	p := samplePayload(4)
	s.Evict(p)
	res := s.Load(context.Background(), p.Coord)
	if !res.Found || res.Err != nil {
		t.Fatalf("expected in-flight payload, got %+v", res)
	}
	samePayload(t, res.Payload, p)
	close(gs.gate)
	s.Flush()
	if st := s.Stats(); st.InFlight != 0 || st.Saved != 1 {
		t.Fatalf("stats=%+v", st)
	}
	res = s.Load(context.Background(), p.Coord)
	if !res.Found {
		t.Fatalf("expected payload from store")
	}
	samePayload(t, res.Payload, p)
}

func TestRequestDrain(t *testing.T) {
	ms := NewMemStore()
	p := samplePayload(5)
	if err := ms.Save(context.Background(), p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	corruptAt := spatial.ChunkCoord{X: 9}
	ms.PutRaw(corruptAt, []byte("bad"))
	s := NewStreamer(Config{MaxLoadsPerTick: 2}, ms, nil)

	coords := []spatial.ChunkCoord{p.Coord, {X: 1}, corruptAt}
	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c spatial.ChunkCoord) {
			defer wg.Done()
			s.Request(c)
			s.Request(c)
		}(c)
	}
	wg.Wait()
	s.Flush()

	first := s.Drain(0)
	second := s.Drain(0)
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("drain sizes %d/%d", len(first), len(second))
	}
	got := map[spatial.ChunkCoord]LoadResult{}
	for _, r := range append(first, second...) {
		got[r.Coord] = r
	}
	if r := got[p.Coord]; !r.Found {
		t.Fatalf("stored chunk not found")
	}
	if r := got[spatial.ChunkCoord{X: 1}]; r.Found || r.Err != nil {
		t.Fatalf("missing chunk should be not-found, got %+v", r)
	}
	if r := got[corruptAt]; !errors.Is(r.Err, ErrCorruptPayload) {
		t.Fatalf("expected corrupt error, got %v", r.Err)
	}
	if s.Pending(p.Coord) {
		t.Fatalf("drained load still pending")
	}
}

// orderStore holds the save of slowTick until released and records the order of saves.
type orderStore struct {
	*MemStore
	slowTick uint64
	entered  chan struct{}
	release  chan struct{}

	mu        sync.Mutex
	ticks     []uint64
	active    int
	maxActive int
}

func (o *orderStore) Save(ctx context.Context, p Payload) error {
	o.mu.Lock()
	o.active++
	if o.active > o.maxActive {
		o.maxActive = o.active
	}
	o.mu.Unlock()
	if p.Tick == o.slowTick {
		o.entered <- struct{}{}
		<-o.release
	}
	err := o.MemStore.Save(ctx, p)
	o.mu.Lock()
	o.active--
	o.ticks = append(o.ticks, p.Tick)
	o.mu.Unlock()
	return err
}

func TestEvictionsOfOneChunkPersistInOrder(t *testing.T) {
	store := &orderStore{MemStore: NewMemStore(), slowTick: 1, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewStreamer(Config{}, store, nil)

	older := samplePayload(1)
	older.Tick = 1
	newer := samplePayload(2)
	newer.Coord = older.Coord
	newer.Tick = 5

	s.Evict(older)
	<-store.entered
	if res := s.Load(context.Background(), older.Coord); res.Payload.Tick != 1 {
		t.Fatalf("reload got tick %d want 1", res.Payload.Tick)
	}
	s.Evict(newer)
	if res := s.Load(context.Background(), older.Coord); res.Payload.Tick != 5 {
		t.Fatalf("in-flight load got tick %d want 5", res.Payload.Tick)
	}
	close(store.release)
	s.Flush()

	res := s.Load(context.Background(), older.Coord)
	if !res.Found || res.Payload.Tick != 5 {
		t.Fatalf("after flush got found=%v tick=%d want 5", res.Found, res.Payload.Tick)
	}
	samePayload(t, res.Payload, newer)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.ticks) != 2 || store.ticks[0] != 1 || store.ticks[1] != 5 {
		t.Fatalf("save order=%v", store.ticks)
	}
	if store.maxActive != 1 {
		t.Fatalf("%d concurrent saves of one chunk", store.maxActive)
	}
	if st := s.Stats(); st.InFlight != 0 || st.Saved != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

// loadGateStore blocks Load until released.
type loadGateStore struct {
	*MemStore
	entered chan struct{}
	release chan struct{}
}

func (g *loadGateStore) Load(ctx context.Context, c spatial.ChunkCoord) (Payload, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MemStore.Load(ctx, c)
}

func TestCancelledRequestDiscardsLateResult(t *testing.T) {
	store := &loadGateStore{MemStore: NewMemStore(), entered: make(chan struct{}, 4), release: make(chan struct{})}
	p := samplePayload(6)
	if err := store.MemStore.Save(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	s := NewStreamer(Config{}, store, nil)

	s.Request(p.Coord)
	<-store.entered
	s.Cancel(p.Coord)
	close(store.release)
	s.Flush()
	if got := s.Drain(0); len(got) != 0 {
		t.Fatalf("cancelled load drained: %+v", got)
	}
	if s.Pending(p.Coord) {
		t.Fatalf("cancelled load still pending")
	}

	s.Request(p.Coord)
	s.Flush()
	if got := s.Drain(0); len(got) != 1 || !got[0].Found {
		t.Fatalf("fresh request drained %+v", got)
	}
}

func TestCancelAllDropsReadyResults(t *testing.T) {
	s := NewStreamer(Config{}, NewMemStore(), nil)
	for x := int32(0); x < 3; x++ {
		s.Request(spatial.ChunkCoord{X: x})
	}
	s.Flush()
	if st := s.Stats(); st.Ready != 3 {
		t.Fatalf("ready=%d want 3", st.Ready)
	}
	s.CancelAll()
	if st := s.Stats(); st.Ready != 0 || st.Requested != 0 {
		t.Fatalf("stats after CancelAll=%+v", st)
	}
}

func TestFileStoreConcurrentSavesOfOneChunk(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for seed := int64(1); seed <= 8; seed++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			p := samplePayload(seed)
			p.Coord = spatial.ChunkCoord{X: 2}
			if err := fs.Save(context.Background(), p); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(seed)
	}
	wg.Wait()
	if _, err := fs.Load(context.Background(), spatial.ChunkCoord{X: 2}); err != nil {
		t.Fatalf("Load after concurrent saves: %v", err)
	}
}
