package step

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"voxelsim.ai/internal/sim/cell"
)

// Chunk applies rule to one snapshot, writes edge^3 results to out and returns the number
// of alive cells written. It reads nothing but the snapshot.
func Chunk(snap *Snapshot, rule cell.Rule, out []cell.Cell) int {
	e := snap.edge
	p := e + 2
	pad := snap.pad
	var offs [cell.MaxNeighbors]int
	n := 0
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offs[n] = (dx*p+dy)*p + dz
				n++
			}
		}
	}
	alive := 0
	i := 0
	for x := 0; x < e; x++ {
		for y := 0; y < e; y++ {
			base := ((x+1)*p + (y + 1)) * p
			for z := 0; z < e; z++ {
				pi := base + z + 1
				count := 0
				for _, o := range offs {
					if pad[pi+o].IsAlive() {
						count++
					}
				}
				v := rule.Next(pad[pi], count)
				out[i] = v
				if v.IsAlive() {
					alive++
				}
				i++
			}
		}
	}
	return alive
}

// Stepper runs Chunk over a tick's snapshots on a bounded worker pool.
type Stepper struct {
	workers int
}

func NewStepper(workers int) *Stepper {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Stepper{workers: workers}
}

func (s *Stepper) Workers() int { return s.workers }

// Run steps every snapshot into its chunk's next buffer and returns the alive counts in
// snapshot order. It returns after all workers finish. A worker panic is reported as an
// error, in which case the caller must not swap.
func (s *Stepper) Run(snaps []*Snapshot, rule cell.Rule) ([]int, error) {
	alive := make([]int, len(snaps))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, snap := range snaps {
		i, snap := i, snap
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("step chunk %v: panic: %v", snap.Chunk.Coord, r)
				}
			}()
			alive[i] = Chunk(snap, rule, snap.Chunk.Next())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return alive, nil
}
