package spatial

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestOverlaySplitMerge(t *testing.T) {
	o := NewOverlay()
	c := ChunkCoord{X: 5, Y: -3, Z: 100}
	changed, err := o.SetActive(c, true)
	if err != nil || !changed {
		t.Fatalf("SetActive: changed=%v err=%v", changed, err)
	}
	if !o.Active(c) || o.Leaves() != 1 {
		t.Fatalf("expected one active leaf")
	}
	// one root plus eight children per level down to unit size
	if want := 1 + 8*AxisBits; o.NodeCount() != want {
		t.Fatalf("node count=%d want %d", o.NodeCount(), want)
	}
	if changed, _ := o.SetActive(c, true); changed {
		t.Fatalf("re-activation must not report a change")
	}
	if changed, _ := o.SetActive(c, false); !changed {
		t.Fatalf("deactivation must report a change")
	}
	if o.NodeCount() != 1 || o.Leaves() != 0 {
		t.Fatalf("expected full merge, nodes=%d leaves=%d", o.NodeCount(), o.Leaves())
	}
	if _, err := o.SetActive(ChunkCoord{X: MaxCoord + 1}, true); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestOverlayRandomMutationsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	o := NewOverlay()
	truth := map[ChunkCoord]bool{}
	for i := 0; i < 4000; i++ {
		c := ChunkCoord{X: int32(rng.Intn(16) - 8), Y: int32(rng.Intn(16) - 8), Z: int32(rng.Intn(16) - 8)}
		on := rng.Intn(3) != 0
		if _, err := o.SetActive(c, on); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		if on {
			truth[c] = true
		} else {
			delete(truth, c)
		}
	}
	if o.Leaves() != len(truth) {
		t.Fatalf("leaves=%d want %d", o.Leaves(), len(truth))
	}
	for c := range truth {
		if !o.Active(c) {
			t.Fatalf("%v should be active", c)
		}
	}
	var walked []ChunkCoord
	o.Walk(func(c ChunkCoord) bool {
		walked = append(walked, c)
		return true
	})
	if len(walked) != len(truth) {
		t.Fatalf("walked %d want %d", len(walked), len(truth))
	}
	for i := 1; i < len(walked); i++ {
		if EncodeMorton(walked[i-1]) >= EncodeMorton(walked[i]) {
			t.Fatalf("walk not in Morton order at %d", i)
		}
	}
	for c := range truth {
		o.SetActive(c, false)
	}
	if o.NodeCount() != 1 {
		t.Fatalf("expected merged tree, nodes=%d", o.NodeCount())
	}
}

func bruteForce(active map[ChunkCoord]bool, pred func(ChunkCoord) bool) []ChunkCoord {
	var out []ChunkCoord
	for c := range active {
		if pred(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return EncodeMorton(out[i]) < EncodeMorton(out[j]) })
	return out
}

func sameCoords(t *testing.T, got, want []ChunkCoord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d results want %d: %v vs %v", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("result %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestQueriesMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	o := NewOverlay()
	active := map[ChunkCoord]bool{}
	for i := 0; i < 300; i++ {
		c := ChunkCoord{X: int32(rng.Intn(20) - 10), Y: int32(rng.Intn(20) - 10), Z: int32(rng.Intn(20) - 10)}
		o.SetActive(c, true)
		active[c] = true
	}
	for i := 0; i < 50; i++ {
		lo := ChunkCoord{X: int32(rng.Intn(20) - 10), Y: int32(rng.Intn(20) - 10), Z: int32(rng.Intn(20) - 10)}
		b := Box{Min: lo, Max: lo.Add(int32(rng.Intn(8)), int32(rng.Intn(8)), int32(rng.Intn(8)))}
		got, err := o.QueryBox(b)
		if err != nil {
			t.Fatalf("QueryBox: %v", err)
		}
		sameCoords(t, got, bruteForce(active, b.Contains))

		s := Sphere{
			Center: mgl64.Vec3{rng.Float64()*20 - 10, rng.Float64()*20 - 10, rng.Float64()*20 - 10},
			Radius: 0.5 + rng.Float64()*5,
		}
		got, err = o.QuerySphere(s)
		if err != nil {
			t.Fatalf("QuerySphere: %v", err)
		}
		sameCoords(t, got, bruteForce(active, s.Intersects))
	}
}

func TestQueryRayOrdering(t *testing.T) {
	o := NewOverlay()
	// Two chunks entered at the same distance, one further away.
	a := ChunkCoord{X: 3, Y: 0, Z: 0}
	b := ChunkCoord{X: 3, Y: -1, Z: 0}
	far := ChunkCoord{X: 6, Y: 0, Z: 0}
	off := ChunkCoord{X: 3, Y: 5, Z: 0}
	for _, c := range []ChunkCoord{far, b, a, off} {
		o.SetActive(c, true)
	}
	hits, err := o.QueryRay(Ray{Origin: mgl64.Vec3{0.5, 0, 0.5}, Dir: mgl64.Vec3{2, 0, 0}, MaxDist: 10})
	if err != nil {
		t.Fatalf("QueryRay: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits=%v", hits)
	}
	first, second := a, b
	if EncodeMorton(b) < EncodeMorton(a) {
		first, second = b, a
	}
	if hits[0].Coord != first || hits[1].Coord != second || hits[2].Coord != far {
		t.Fatalf("unexpected order: %v", hits)
	}
	if math.Abs(hits[0].Distance-2.5) > 1e-9 || hits[0].Distance != hits[1].Distance {
		t.Fatalf("unexpected distances: %v", hits)
	}

	short, err := o.QueryRay(Ray{Origin: mgl64.Vec3{0.5, 0, 0.5}, Dir: mgl64.Vec3{1, 0, 0}, MaxDist: 2})
	if err != nil || len(short) != 0 {
		t.Fatalf("expected no hits within 2, got %v err=%v", short, err)
	}
}

func TestInvalidQueries(t *testing.T) {
	o := NewOverlay()
	o.SetActive(ChunkCoord{}, true)
	nan := math.NaN()
	cases := []error{
		func() error { _, err := o.QueryBox(Box{Min: ChunkCoord{X: 2}, Max: ChunkCoord{X: 1}}); return err }(),
		func() error { _, err := o.QueryBox(Box{Max: ChunkCoord{X: MaxCoord + 1}}); return err }(),
		func() error { _, err := o.QuerySphere(Sphere{Radius: 0}); return err }(),
		func() error { _, err := o.QuerySphere(Sphere{Radius: nan}); return err }(),
		func() error { _, err := o.QuerySphere(Sphere{Center: mgl64.Vec3{1e9, 0, 0}, Radius: 1}); return err }(),
		func() error { _, err := o.QueryRay(Ray{Dir: mgl64.Vec3{}, MaxDist: 1}); return err }(),
		func() error { _, err := o.QueryRay(Ray{Dir: mgl64.Vec3{nan, 0, 0}, MaxDist: 1}); return err }(),
		func() error { _, err := o.QueryRay(Ray{Dir: mgl64.Vec3{1, 0, 0}, MaxDist: -1}); return err }(),
		func() error { _, err := o.QueryPoint(mgl64.Vec3{nan, 0, 0}); return err }(),
	}
	for i, err := range cases {
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("case %d: expected ErrInvalidQuery, got %v", i, err)
		}
	}
	if !o.Active(ChunkCoord{}) || o.Leaves() != 1 {
		t.Fatalf("invalid queries must leave the index untouched")
	}
	hit, err := o.QueryPoint(mgl64.Vec3{0.25, 0.75, 0.5})
	if err != nil || len(hit) != 1 {
		t.Fatalf("QueryPoint = %v err=%v", hit, err)
	}
}
