// Package queryhttp serves read-only JSON queries over the simulation state.
package queryhttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelsim.ai/internal/protocol"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/encoding"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
)

// Source is the engine surface queried by this package.
type Source interface {
	Config() engine.Config
	Tick() uint64
	Cell(abs [3]int64) (cell.Cell, bool)
	ChunkCells(c spatial.ChunkCoord) ([]cell.Cell, bool)
	ChunkMass(c spatial.ChunkCoord) (float64, bool)
	Gravity(id string) (mgl32.Vec3, bool)
	ResidentChunks() []spatial.ChunkCoord
	ActiveChunks() []spatial.ChunkCoord
	QueryPoint(p mgl64.Vec3) ([]spatial.ChunkCoord, error)
	QueryBox(b spatial.Box) ([]spatial.ChunkCoord, error)
	QuerySphere(s spatial.Sphere) ([]spatial.ChunkCoord, error)
	QueryRay(r spatial.Ray) ([]spatial.RayHit, error)
}

type Server struct {
	src Source
	log *log.Logger
}

func NewServer(src Source, logger *log.Logger) *Server {
	return &Server{src: src, log: logger}
}

// Register mounts every route under /v1/.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/cell", s.get(s.handleCell))
	mux.HandleFunc("/v1/chunk", s.get(s.handleChunk))
	mux.HandleFunc("/v1/chunks/active", s.get(s.handleActive))
	mux.HandleFunc("/v1/chunks/resident", s.get(s.handleResident))
	mux.HandleFunc("/v1/gravity", s.get(s.handleGravity))
	mux.HandleFunc("/v1/query/point", s.post(s.handlePoint))
	mux.HandleFunc("/v1/query/box", s.post(s.handleBox))
	mux.HandleFunc("/v1/query/sphere", s.post(s.handleSphere))
	mux.HandleFunc("/v1/query/ray", s.post(s.handleRay))
}

type CellResponse struct {
	Tick     uint64   `json:"tick"`
	Abs      [3]int64 `json:"abs"`
	Raw      uint16   `json:"raw"`
	Material uint8    `json:"material"`
	Flags    uint8    `json:"flags"`
	Alive    bool     `json:"alive"`
}

type ChunkResponse struct {
	Tick  uint64   `json:"tick"`
	Coord [3]int32 `json:"coord"`
	Edge  int      `json:"edge"`
	Alive int      `json:"alive"`
	Mass  float64  `json:"mass"`
	RLE   string   `json:"rle"`
}

type ChunksResponse struct {
	Tick   uint64     `json:"tick"`
	Chunks [][3]int32 `json:"chunks"`
}

type RayHit struct {
	Coord    [3]int32 `json:"coord"`
	Distance float64  `json:"distance"`
}

type RayResponse struct {
	Tick uint64   `json:"tick"`
	Hits []RayHit `json:"hits"`
}

type GravityResponse struct {
	ID  string     `json:"id"`
	Dir [3]float32 `json:"dir"`
}

type PointRequest struct {
	Point [3]float64 `json:"point"`
}

type BoxRequest struct {
	Min [3]int32 `json:"min"`
	Max [3]int32 `json:"max"`
}

type SphereRequest struct {
	Center [3]float64 `json:"center"`
	Radius float64    `json:"radius"`
}

type RayRequest struct {
	Origin  [3]float64 `json:"origin"`
	Dir     [3]float64 `json:"dir"`
	MaxDist float64    `json:"max_dist"`
}

type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &apiError{http.StatusBadRequest, protocol.ErrBadRequest, msg}
}

type handlerFunc func(r *http.Request) (any, error)

func (s *Server) get(h handlerFunc) http.HandlerFunc {
	return s.wrap(http.MethodGet, h)
}

func (s *Server) post(h handlerFunc) http.HandlerFunc {
	return s.wrap(http.MethodPost, h)
}

func (s *Server) wrap(method string, h handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v, err := h(r)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			status, code := http.StatusInternalServerError, protocol.ErrInternal
			var ae *apiError
			switch {
			case errors.As(err, &ae):
				status, code = ae.status, ae.code
			case errors.Is(err, spatial.ErrInvalidQuery):
				status, code = http.StatusBadRequest, protocol.ErrInvalidQuery
			case errors.Is(err, spatial.ErrOutOfRange):
				status, code = http.StatusBadRequest, protocol.ErrOutOfRange
			default:
				s.logf("query %s: %v", r.URL.Path, err)
			}
			rw.WriteHeader(status)
			_ = json.NewEncoder(rw).Encode(protocol.NewError(code, err.Error()))
			return
		}
		_ = json.NewEncoder(rw).Encode(v)
	}
}

func intParams(r *http.Request, bits int, names ...string) ([]int64, error) {
	out := make([]int64, len(names))
	for i, n := range names {
		v, err := strconv.ParseInt(r.URL.Query().Get(n), 10, bits)
		if err != nil {
			return nil, badRequest("bad " + n + " parameter")
		}
		out[i] = v
	}
	return out, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("bad json: " + err.Error())
	}
	return nil
}

func (s *Server) handleCell(r *http.Request) (any, error) {
	xyz, err := intParams(r, 64, "x", "y", "z")
	if err != nil {
		return nil, err
	}
	abs := [3]int64{xyz[0], xyz[1], xyz[2]}
	tick := s.src.Tick()
	c, ok := s.src.Cell(abs)
	if !ok {
		return nil, &apiError{http.StatusNotFound, protocol.ErrNotResident, "cell chunk not resident"}
	}
	return CellResponse{Tick: tick, Abs: abs, Raw: c.Packed(), Material: c.Material(), Flags: c.Flags(), Alive: c.IsAlive()}, nil
}

func (s *Server) handleChunk(r *http.Request) (any, error) {
	xyz, err := intParams(r, 32, "x", "y", "z")
	if err != nil {
		return nil, err
	}
	c := spatial.ChunkCoord{X: int32(xyz[0]), Y: int32(xyz[1]), Z: int32(xyz[2])}
	tick := s.src.Tick()
	cells, ok := s.src.ChunkCells(c)
	if !ok {
		return nil, &apiError{http.StatusNotFound, protocol.ErrNotResident, "chunk " + c.String() + " not resident"}
	}
	mass, _ := s.src.ChunkMass(c)
	return ChunkResponse{
		Tick:  tick,
		Coord: [3]int32{c.X, c.Y, c.Z},
		Edge:  s.src.Config().Edge,
		Alive: cell.CountAlive(cells),
		Mass:  mass,
		RLE:   encoding.EncodeRLEString(cells),
	}, nil
}

func coordsOut(tick uint64, cs []spatial.ChunkCoord) ChunksResponse {
	out := ChunksResponse{Tick: tick, Chunks: make([][3]int32, 0, len(cs))}
	for _, c := range cs {
		out.Chunks = append(out.Chunks, [3]int32{c.X, c.Y, c.Z})
	}
	return out
}

func (s *Server) handleActive(*http.Request) (any, error) {
	return coordsOut(s.src.Tick(), s.src.ActiveChunks()), nil
}

func (s *Server) handleResident(*http.Request) (any, error) {
	return coordsOut(s.src.Tick(), s.src.ResidentChunks()), nil
}

func (s *Server) handleGravity(r *http.Request) (any, error) {
	id := r.URL.Query().Get("id")
	if id == "" {
		return nil, badRequest("missing id")
	}
	dir, ok := s.src.Gravity(id)
	if !ok {
		return nil, &apiError{http.StatusNotFound, protocol.ErrBadRequest, "unknown object " + id}
	}
	return GravityResponse{ID: id, Dir: [3]float32(dir)}, nil
}

func (s *Server) handlePoint(r *http.Request) (any, error) {
	var req PointRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	tick := s.src.Tick()
	cs, err := s.src.QueryPoint(mgl64.Vec3(req.Point))
	if err != nil {
		return nil, err
	}
	return coordsOut(tick, cs), nil
}

func (s *Server) handleBox(r *http.Request) (any, error) {
	var req BoxRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	tick := s.src.Tick()
	cs, err := s.src.QueryBox(spatial.Box{
		Min: spatial.ChunkCoord{X: req.Min[0], Y: req.Min[1], Z: req.Min[2]},
		Max: spatial.ChunkCoord{X: req.Max[0], Y: req.Max[1], Z: req.Max[2]},
	})
	if err != nil {
		return nil, err
	}
	return coordsOut(tick, cs), nil
}

func (s *Server) handleSphere(r *http.Request) (any, error) {
	var req SphereRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	tick := s.src.Tick()
	cs, err := s.src.QuerySphere(spatial.Sphere{Center: mgl64.Vec3(req.Center), Radius: req.Radius})
	if err != nil {
		return nil, err
	}
	return coordsOut(tick, cs), nil
}

func (s *Server) handleRay(r *http.Request) (any, error) {
	var req RayRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	tick := s.src.Tick()
	hits, err := s.src.QueryRay(spatial.Ray{Origin: mgl64.Vec3(req.Origin), Dir: mgl64.Vec3(req.Dir), MaxDist: req.MaxDist})
	if err != nil {
		return nil, err
	}
	out := RayResponse{Tick: tick, Hits: make([]RayHit, 0, len(hits))}
	for _, h := range hits {
		out.Hits = append(out.Hits, RayHit{Coord: [3]int32{h.Coord.X, h.Coord.Y, h.Coord.Z}, Distance: h.Distance})
	}
	return out, nil
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
