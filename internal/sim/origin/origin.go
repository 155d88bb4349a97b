package origin

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelsim.ai/internal/sim/mathx"
	"voxelsim.ai/internal/sim/spatial"
)

var ErrUnknownObject = errors.New("origin: unknown object")

// GridCell is an absolute cell index stamped with the epoch its local position was derived in.
type GridCell struct {
	X, Y, Z int64
	Epoch   uint64
}

func (g GridCell) Abs() [3]int64 { return [3]int64{g.X, g.Y, g.Z} }

type tracked struct {
	abs   [3]int64
	frac  mgl32.Vec3
	local mgl32.Vec3
}

// Manager keeps local float positions small by re-basing them on a reference object.
// Absolute indices are never modified by a recenter.
type Manager struct {
	mu       sync.RWMutex
	cellSize float32
	origin   [3]int64
	epoch    uint64
	ref      string
	objs     map[string]*tracked
}

func NewManager(cellSize float32) *Manager {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Manager{cellSize: cellSize, objs: map[string]*tracked{}}
}

func (m *Manager) CellSize() float32 { return m.cellSize }

func (m *Manager) localOf(abs [3]int64, frac mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(abs[0]-m.origin[0])*m.cellSize + frac[0],
		float32(abs[1]-m.origin[1])*m.cellSize + frac[1],
		float32(abs[2]-m.origin[2])*m.cellSize + frac[2],
	}
}

// Track registers or replaces an object.
func (m *Manager) Track(id string, abs [3]int64, frac mgl32.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[id] = &tracked{abs: abs, frac: frac, local: m.localOf(abs, frac)}
	if m.isRef(id) {
		m.recenterLocked(abs)
	}
}

func (m *Manager) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, id)
	if id == m.ref {
		m.ref = ""
	}
}

// Move updates an object's position. Moving the reference into another cell recenters.
func (m *Manager) Move(id string, abs [3]int64, frac mgl32.Vec3) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.objs[id]
	if o == nil {
		return ErrUnknownObject
	}
	o.abs = abs
	o.frac = frac
	o.local = m.localOf(abs, frac)
	if m.isRef(id) {
		m.recenterLocked(abs)
	}
	return nil
}

func (m *Manager) isRef(id string) bool { return m.ref != "" && id == m.ref }

// SetReference designates the object the origin follows.
func (m *Manager) SetReference(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.objs[id]
	if o == nil || id == "" {
		return ErrUnknownObject
	}
	m.ref = id
	m.recenterLocked(o.abs)
	return nil
}

func (m *Manager) Reference() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ref
}

func (m *Manager) recenterLocked(abs [3]int64) {
	if abs == m.origin {
		return
	}
	m.origin = abs
	m.epoch++
	for _, o := range m.objs {
		o.local = m.localOf(o.abs, o.frac)
	}
}

// Local returns the object's position relative to the origin and the cell it was derived from.
func (m *Manager) Local(id string) (mgl32.Vec3, GridCell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o := m.objs[id]
	if o == nil {
		return mgl32.Vec3{}, GridCell{}, false
	}
	return o.local, GridCell{X: o.abs[0], Y: o.abs[1], Z: o.abs[2], Epoch: m.epoch}, true
}

// Trusted reports whether a local position stamped with g is still valid.
func (m *Manager) Trusted(g GridCell) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return g.Epoch == m.epoch
}

// Resolve re-derives a local position against the current origin and returns the refreshed cell.
func (m *Manager) Resolve(g GridCell, frac mgl32.Vec3) (mgl32.Vec3, GridCell) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g.Epoch = m.epoch
	return m.localOf(g.Abs(), frac), g
}

func (m *Manager) Absolute(id string) ([3]int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o := m.objs[id]
	if o == nil {
		return [3]int64{}, false
	}
	return o.abs, true
}

func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) Origin() [3]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.origin
}

// ChunkOf maps an absolute cell index to its chunk coordinate.
func ChunkOf(abs [3]int64, edge int) spatial.ChunkCoord {
	e := int64(edge)
	return spatial.ChunkCoord{
		X: int32(mathx.FloorDiv(abs[0], e)),
		Y: int32(mathx.FloorDiv(abs[1], e)),
		Z: int32(mathx.FloorDiv(abs[2], e)),
	}
}

type ObjectState struct {
	ID   string     `json:"id"`
	Abs  [3]int64   `json:"abs"`
	Frac [3]float32 `json:"frac"`
}

type State struct {
	Origin  [3]int64      `json:"origin"`
	Epoch   uint64        `json:"epoch"`
	Ref     string        `json:"ref,omitempty"`
	Objects []ObjectState `json:"objects,omitempty"`
}

// Export returns objects sorted by id.
func (m *Manager) Export() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := State{Origin: m.origin, Epoch: m.epoch, Ref: m.ref}
	for id, o := range m.objs {
		s.Objects = append(s.Objects, ObjectState{ID: id, Abs: o.abs, Frac: o.frac})
	}
	sort.Slice(s.Objects, func(i, j int) bool { return s.Objects[i].ID < s.Objects[j].ID })
	return s
}

func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.origin = s.Origin
	m.epoch = s.Epoch
	m.ref = s.Ref
	m.objs = make(map[string]*tracked, len(s.Objects))
	for _, st := range s.Objects {
		frac := mgl32.Vec3(st.Frac)
		m.objs[st.ID] = &tracked{abs: st.Abs, frac: frac, local: m.localOf(st.Abs, frac)}
	}
}
