package spatial

import "sort"

// Table maps chunk coordinates to arena handles and iterates them in Morton order.
// It is not safe for concurrent use; Index adds locking.
type Table struct {
	m    map[MortonKey]Handle
	keys []MortonKey // sorted ascending
}

func NewTable() *Table {
	return &Table{m: map[MortonKey]Handle{}}
}

func (t *Table) Len() int { return len(t.keys) }

// Insert adds or replaces the handle for c.
func (t *Table) Insert(c ChunkCoord, h Handle) error {
	if !InRange(c) {
		return ErrOutOfRange
	}
	k := EncodeMorton(c)
	if _, ok := t.m[k]; !ok {
		i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= k })
		t.keys = append(t.keys, 0)
		copy(t.keys[i+1:], t.keys[i:])
		t.keys[i] = k
	}
	t.m[k] = h
	return nil
}

func (t *Table) Remove(c ChunkCoord) (Handle, bool) {
	if !InRange(c) {
		return Handle{}, false
	}
	k := EncodeMorton(c)
	h, ok := t.m[k]
	if !ok {
		return Handle{}, false
	}
	delete(t.m, k)
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= k })
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	return h, true
}

func (t *Table) Lookup(c ChunkCoord) (Handle, bool) {
	if !InRange(c) {
		return Handle{}, false
	}
	h, ok := t.m[EncodeMorton(c)]
	return h, ok
}

// Keys returns a copy of the sorted key slice.
func (t *Table) Keys() []MortonKey {
	return append([]MortonKey(nil), t.keys...)
}

// Range visits entries in ascending Morton order until fn returns false.
func (t *Table) Range(fn func(ChunkCoord, Handle) bool) {
	for _, k := range t.keys {
		if !fn(DecodeMorton(k), t.m[k]) {
			return
		}
	}
}
