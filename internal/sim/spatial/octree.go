package spatial

const (
	noChild  int32 = -1
	rootSize int32 = 1 << AxisBits
	maxDepth       = AxisBits + 1
)

// Node is one octree arena entry. Children occupy eight consecutive slots starting at Child.
type Node struct {
	Min          ChunkCoord
	Size         int32
	Child        int32
	Active       bool
	ActiveLeaves int32
}

func (n *Node) IsLeaf() bool { return n.Child == noChild }

// Overlay is a sparse octree over the whole coordinate range. Unit leaves mark active chunks;
// a node splits on the first activation below it and merges back once nothing below is active.
type Overlay struct {
	nodes []Node
	free  []int32 // released child blocks
}

func NewOverlay() *Overlay {
	o := &Overlay{}
	o.nodes = append(o.nodes, Node{
		Min:   ChunkCoord{X: MinCoord, Y: MinCoord, Z: MinCoord},
		Size:  rootSize,
		Child: noChild,
	})
	return o
}

// NodeCount returns the number of live nodes.
func (o *Overlay) NodeCount() int { return len(o.nodes) - 8*len(o.free) }

// Leaves returns the number of active unit leaves.
func (o *Overlay) Leaves() int { return int(o.nodes[0].ActiveLeaves) }

func (o *Overlay) Node(i int32) Node { return o.nodes[i] }

func octant(n *Node, c ChunkCoord) int32 {
	half := n.Size / 2
	var i int32
	if c.X >= n.Min.X+half {
		i |= 1
	}
	if c.Y >= n.Min.Y+half {
		i |= 2
	}
	if c.Z >= n.Min.Z+half {
		i |= 4
	}
	return i
}

func (o *Overlay) split(idx int32) {
	var base int32
	if n := len(o.free); n > 0 {
		base = o.free[n-1]
		o.free = o.free[:n-1]
	} else {
		base = int32(len(o.nodes))
		o.nodes = append(o.nodes, make([]Node, 8)...)
	}
	p := o.nodes[idx]
	half := p.Size / 2
	for i := int32(0); i < 8; i++ {
		m := p.Min
		if i&1 != 0 {
			m.X += half
		}
		if i&2 != 0 {
			m.Y += half
		}
		if i&4 != 0 {
			m.Z += half
		}
		o.nodes[base+i] = Node{Min: m, Size: half, Child: noChild}
	}
	o.nodes[idx].Child = base
}

func (o *Overlay) merge(idx int32) {
	base := o.nodes[idx].Child
	for i := int32(0); i < 8; i++ {
		o.nodes[base+i] = Node{Child: noChild}
	}
	o.free = append(o.free, base)
	o.nodes[idx].Child = noChild
}

// Active reports whether the unit leaf for c is active.
func (o *Overlay) Active(c ChunkCoord) bool {
	if !InRange(c) {
		return false
	}
	idx := int32(0)
	for {
		n := &o.nodes[idx]
		if n.ActiveLeaves == 0 {
			return false
		}
		if n.IsLeaf() {
			return n.Active
		}
		idx = n.Child + octant(n, c)
	}
}

// SetActive sets the activation of c's unit leaf and reports whether anything changed.
func (o *Overlay) SetActive(c ChunkCoord, on bool) (bool, error) {
	if !InRange(c) {
		return false, ErrOutOfRange
	}
	var path [maxDepth]int32
	depth := 0
	idx := int32(0)
	for {
		path[depth] = idx
		depth++
		n := &o.nodes[idx]
		if n.Size == 1 {
			break
		}
		if n.IsLeaf() {
			if !on {
				return false, nil
			}
			o.split(idx)
			n = &o.nodes[idx]
		}
		idx = n.Child + octant(n, c)
	}
	leaf := &o.nodes[idx]
	if leaf.Active == on {
		return false, nil
	}
	leaf.Active = on
	if on {
		leaf.ActiveLeaves = 1
		for i := depth - 2; i >= 0; i-- {
			p := &o.nodes[path[i]]
			p.ActiveLeaves++
			p.Active = true
		}
		return true, nil
	}
	leaf.ActiveLeaves = 0
	for i := depth - 2; i >= 0; i-- {
		p := &o.nodes[path[i]]
		p.ActiveLeaves--
		if p.ActiveLeaves == 0 {
			p.Active = false
			o.merge(path[i])
		}
	}
	return true, nil
}

// Walk visits every active unit leaf in ascending Morton order.
func (o *Overlay) Walk(fn func(ChunkCoord) bool) {
	o.descend(0, func(*Node) bool { return true }, fn)
}

// descend visits active unit leaves under idx whose ancestors all pass keep. Children are
// visited in octant order, which is ascending Morton order.
func (o *Overlay) descend(idx int32, keep func(*Node) bool, fn func(ChunkCoord) bool) bool {
	n := &o.nodes[idx]
	if n.ActiveLeaves == 0 || !keep(n) {
		return true
	}
	if n.IsLeaf() {
		if n.Size == 1 && n.Active {
			return fn(n.Min)
		}
		return true
	}
	base := n.Child
	for i := int32(0); i < 8; i++ {
		if !o.descend(base+i, keep, fn) {
			return false
		}
	}
	return true
}
