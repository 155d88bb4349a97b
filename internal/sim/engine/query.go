package engine

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/mathx"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/spatial"
)

// Cell reads the current state at an absolute cell index.
func (e *Engine) Cell(abs [3]int64) (cell.Cell, bool) {
	edge := int64(e.cfg.Edge)
	c := origin.ChunkOf(abs, e.cfg.Edge)
	e.state.RLock()
	defer e.state.RUnlock()
	ch := e.chunkAt(c)
	if ch == nil {
		return 0, false
	}
	return ch.Get(int(mathx.Mod(abs[0], edge)), int(mathx.Mod(abs[1], edge)), int(mathx.Mod(abs[2], edge))), true
}

// ChunkCells returns a copy of the chunk's current buffer.
func (e *Engine) ChunkCells(c spatial.ChunkCoord) ([]cell.Cell, bool) {
	e.state.RLock()
	defer e.state.RUnlock()
	ch := e.chunkAt(c)
	if ch == nil {
		return nil, false
	}
	return append([]cell.Cell(nil), ch.Current()...), true
}

// ChunkMass aggregates solid material mass for gravity.
func (e *Engine) ChunkMass(c spatial.ChunkCoord) (float64, bool) {
	e.state.RLock()
	defer e.state.RUnlock()
	ch := e.chunkAt(c)
	if ch == nil {
		return 0, false
	}
	return ch.Mass(e.cfg.MaterialMass), true
}

// Gravity returns the gravity direction for a tracked object.
func (e *Engine) Gravity(id string) (mgl32.Vec3, bool) {
	abs, ok := e.origin.Absolute(id)
	if !ok {
		return mgl32.Vec3{}, false
	}
	mass := func(c spatial.ChunkCoord) float64 {
		m, _ := e.ChunkMass(c)
		return m
	}
	return origin.GravityDirection(abs, e.cfg.Gravity, mass), true
}

// ResidentChunks lists loaded chunks in Morton order.
func (e *Engine) ResidentChunks() []spatial.ChunkCoord {
	coords, _ := e.index.Coords()
	return coords
}

// ActiveChunks lists chunks with at least one alive cell in Morton order.
func (e *Engine) ActiveChunks() []spatial.ChunkCoord { return e.index.ActiveChunks() }

func (e *Engine) QueryPoint(p mgl64.Vec3) ([]spatial.ChunkCoord, error) {
	return e.index.QueryPoint(p)
}

func (e *Engine) QueryBox(b spatial.Box) ([]spatial.ChunkCoord, error) {
	return e.index.QueryBox(b)
}

func (e *Engine) QuerySphere(s spatial.Sphere) ([]spatial.ChunkCoord, error) {
	return e.index.QuerySphere(s)
}

func (e *Engine) QueryRay(r spatial.Ray) ([]spatial.RayHit, error) {
	return e.index.QueryRay(r)
}

// VerifyActivation rescans every resident chunk against the overlay.
func (e *Engine) VerifyActivation() error {
	e.state.RLock()
	defer e.state.RUnlock()
	return e.index.VerifyActivation(func(c spatial.ChunkCoord) bool {
		ch := e.chunkAt(c)
		return ch != nil && ch.IsActive()
	})
}
