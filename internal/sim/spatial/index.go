package spatial

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"voxelsim.ai/internal/sim/clock"
)

// Index pairs the chunk table with the activation overlay. Mutations come from a single
// writer between ticks; queries may run concurrently under the read lock.
type Index struct {
	mu      sync.RWMutex
	table   *Table
	overlay *Overlay
	version uint64

	phase  atomic.Uint32
	logger *log.Logger
}

func NewIndex(logger *log.Logger) *Index {
	return &Index{
		table:   NewTable(),
		overlay: NewOverlay(),
		logger:  logger,
	}
}

func (ix *Index) SetPhase(p clock.Phase) { ix.phase.Store(uint32(p)) }
func (ix *Index) Phase() clock.Phase     { return clock.Phase(ix.phase.Load()) }

// mutable reports whether a mutation may proceed in the current phase.
func (ix *Index) mutable(op string) bool {
	if ix.Phase() != clock.PhaseStepping {
		return true
	}
	return steppingViolation(ix.logger, op)
}

// Version increases on every successful mutation.
func (ix *Index) Version() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.version
}

func (ix *Index) Insert(c ChunkCoord, h Handle) error {
	if !ix.mutable("insert") {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.table.Insert(c, h); err != nil {
		return fmt.Errorf("index insert %v: %w", c, err)
	}
	ix.version++
	return nil
}

// Remove drops c from the table and deactivates its leaf in one step.
func (ix *Index) Remove(c ChunkCoord) (Handle, bool) {
	if !ix.mutable("remove") {
		return Handle{}, false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	h, ok := ix.table.Remove(c)
	if !ok {
		return Handle{}, false
	}
	ix.overlay.SetActive(c, false)
	ix.version++
	return h, true
}

// SetActive updates the overlay leaf for c and reports whether it changed.
func (ix *Index) SetActive(c ChunkCoord, on bool) (bool, error) {
	if !ix.mutable("set_active") {
		return false, nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if on {
		if _, ok := ix.table.Lookup(c); !ok {
			return false, fmt.Errorf("index activate %v: chunk not registered", c)
		}
	}
	changed, err := ix.overlay.SetActive(c, on)
	if err != nil {
		return false, fmt.Errorf("index activate %v: %w", c, err)
	}
	if changed {
		ix.version++
	}
	return changed, nil
}

func (ix *Index) Lookup(c ChunkCoord) (Handle, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.table.Lookup(c)
}

func (ix *Index) Active(c ChunkCoord) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.overlay.Active(c)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.table.Len()
}

// Coords returns every registered chunk in Morton order together with the index version.
func (ix *Index) Coords() ([]ChunkCoord, uint64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]ChunkCoord, 0, ix.table.Len())
	ix.table.Range(func(c ChunkCoord, _ Handle) bool {
		out = append(out, c)
		return true
	})
	return out, ix.version
}

// ActiveChunks returns every active chunk in Morton order.
func (ix *Index) ActiveChunks() []ChunkCoord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []ChunkCoord
	ix.overlay.Walk(func(c ChunkCoord) bool {
		out = append(out, c)
		return true
	})
	return out
}

type OverlayStats struct {
	Nodes  int
	Leaves int
}

func (ix *Index) OverlayStats() OverlayStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return OverlayStats{Nodes: ix.overlay.NodeCount(), Leaves: ix.overlay.Leaves()}
}

func (ix *Index) QueryPoint(p mgl64.Vec3) ([]ChunkCoord, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.overlay.QueryPoint(p)
}

func (ix *Index) QueryBox(b Box) ([]ChunkCoord, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.overlay.QueryBox(b)
}

func (ix *Index) QuerySphere(s Sphere) ([]ChunkCoord, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.overlay.QuerySphere(s)
}

func (ix *Index) QueryRay(r Ray) ([]RayHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.overlay.QueryRay(r)
}

// VerifyActivation rescans every registered chunk and checks its leaf against pred. Active
// leaves without a registered chunk are also reported.
func (ix *Index) VerifyActivation(pred func(ChunkCoord) bool) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var err error
	ix.table.Range(func(c ChunkCoord, _ Handle) bool {
		want := pred(c)
		if got := ix.overlay.Active(c); got != want {
			err = fmt.Errorf("chunk %v: leaf active=%v predicate=%v", c, got, want)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	n := 0
	ix.overlay.Walk(func(c ChunkCoord) bool {
		n++
		if _, ok := ix.table.Lookup(c); !ok {
			err = fmt.Errorf("active leaf %v has no chunk", c)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if n != ix.overlay.Leaves() {
		return fmt.Errorf("overlay leaf count %d, walked %d", ix.overlay.Leaves(), n)
	}
	return nil
}
