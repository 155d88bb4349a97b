package queryhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"voxelsim.ai/internal/protocol"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

func setup(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	e := engine.New(engine.Config{WorldID: "q", Edge: 4}, stream.NewMemStore(), nil)
	t.Cleanup(e.Close)
	for _, c := range []spatial.ChunkCoord{{}, {X: 1}, {X: 2}} {
		if err := e.LoadChunk(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Edit(spatial.ChunkCoord{X: 1}, [3]int{1, 1, 1}, cell.New(1, cell.FlagAutomata)); err != nil {
		t.Fatal(err)
	}
	// Runs the boundary without stepping: the edit lands, the lone cell stays alive.
	e.ApplyBoundary(engine.Boundary{})

	mux := http.NewServeMux()
	NewServer(e, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return e, srv
}

func getJSON(t *testing.T, url string, want int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("GET %s status=%d want %d", url, resp.StatusCode, want)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any, want int, v any) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("POST %s status=%d want %d", url, resp.StatusCode, want)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestCellAndChunk(t *testing.T) {
	_, srv := setup(t)

	var c CellResponse
	getJSON(t, srv.URL+"/v1/cell?x=5&y=1&z=1", http.StatusOK, &c)
	if !c.Alive || c.Material != 1 {
		t.Fatalf("cell=%+v", c)
	}

	var ch ChunkResponse
	getJSON(t, srv.URL+"/v1/chunk?x=1&y=0&z=0", http.StatusOK, &ch)
	if ch.Alive != 1 || ch.Edge != 4 || ch.Mass != 1 || ch.RLE == "" {
		t.Fatalf("chunk=%+v", ch)
	}

	var e protocol.ErrorMsg
	getJSON(t, srv.URL+"/v1/chunk?x=9&y=0&z=0", http.StatusNotFound, &e)
	if e.Code != protocol.ErrNotResident {
		t.Fatalf("code=%s", e.Code)
	}
	getJSON(t, srv.URL+"/v1/cell?x=a", http.StatusBadRequest, &e)
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
}

func TestChunkLists(t *testing.T) {
	_, srv := setup(t)
	var active, resident ChunksResponse
	getJSON(t, srv.URL+"/v1/chunks/active", http.StatusOK, &active)
	getJSON(t, srv.URL+"/v1/chunks/resident", http.StatusOK, &resident)
	if len(active.Chunks) != 1 || active.Chunks[0] != [3]int32{1, 0, 0} {
		t.Fatalf("active=%v", active.Chunks)
	}
	if len(resident.Chunks) != 3 {
		t.Fatalf("resident=%v", resident.Chunks)
	}
}

func TestSpatialQueries(t *testing.T) {
	_, srv := setup(t)

	var box ChunksResponse
	postJSON(t, srv.URL+"/v1/query/box", BoxRequest{Min: [3]int32{0, 0, 0}, Max: [3]int32{3, 3, 3}}, http.StatusOK, &box)
	if len(box.Chunks) != 1 {
		t.Fatalf("box=%v", box.Chunks)
	}

	var sphere ChunksResponse
	postJSON(t, srv.URL+"/v1/query/sphere", SphereRequest{Center: [3]float64{1.5, 0.5, 0.5}, Radius: 0.25}, http.StatusOK, &sphere)
	if len(sphere.Chunks) != 1 {
		t.Fatalf("sphere=%v", sphere.Chunks)
	}

	var ray RayResponse
	postJSON(t, srv.URL+"/v1/query/ray", RayRequest{Origin: [3]float64{-5, 0.5, 0.5}, Dir: [3]float64{1, 0, 0}, MaxDist: 100}, http.StatusOK, &ray)
	if len(ray.Hits) != 1 || ray.Hits[0].Coord != [3]int32{1, 0, 0} {
		t.Fatalf("ray=%+v", ray.Hits)
	}

	var e protocol.ErrorMsg
	postJSON(t, srv.URL+"/v1/query/sphere", SphereRequest{Radius: -1}, http.StatusBadRequest, &e)
	if e.Code != protocol.ErrInvalidQuery {
		t.Fatalf("code=%s", e.Code)
	}
	postJSON(t, srv.URL+"/v1/query/box", map[string]any{"lo": 1}, http.StatusBadRequest, &e)
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
}

func TestGravity(t *testing.T) {
	e, srv := setup(t)
	e.Origin().Track("drone", [3]int64{0, 10, 0}, [3]float32{})
	var g GravityResponse
	getJSON(t, srv.URL+"/v1/gravity?id=drone", http.StatusOK, &g)
	if g.Dir[1] >= 0 {
		t.Fatalf("gravity should pull toward the centre, got %v", g.Dir)
	}
	var er protocol.ErrorMsg
	getJSON(t, srv.URL+"/v1/gravity?id=nope", http.StatusNotFound, &er)
}
