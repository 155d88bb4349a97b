package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"voxelsim.ai/internal/sim/spatial"
)

// Store persists chunk payloads keyed by coordinate.
type Store interface {
	Save(ctx context.Context, p Payload) error
	// Load returns ErrNotFound when nothing is stored for c.
	Load(ctx context.Context, c spatial.ChunkCoord) (Payload, error)
	Delete(ctx context.Context, c spatial.ChunkCoord) error
}

// MemStore keeps encoded payloads in memory.
type MemStore struct {
	mu sync.Mutex
	m  map[spatial.ChunkCoord][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{m: map[spatial.ChunkCoord][]byte{}}
}

func (s *MemStore) Save(_ context.Context, p Payload) error {
	b, err := Marshal(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.m[p.Coord] = b
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Load(_ context.Context, c spatial.ChunkCoord) (Payload, error) {
	s.mu.Lock()
	b, ok := s.m[c]
	s.mu.Unlock()
	if !ok {
		return Payload{}, ErrNotFound
	}
	return Unmarshal(b)
}

func (s *MemStore) Delete(_ context.Context, c spatial.ChunkCoord) error {
	s.mu.Lock()
	delete(s.m, c)
	s.mu.Unlock()
	return nil
}

// PutRaw stores bytes as-is.
func (s *MemStore) PutRaw(c spatial.ChunkCoord, b []byte) {
	s.mu.Lock()
	s.m[c] = append([]byte(nil), b...)
	s.mu.Unlock()
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Overlay reads Top first and falls back to Base; writes and deletes only touch Top.
// Replay uses it to run against a world store without modifying it.
type Overlay struct {
	Top  Store
	Base Store
}

func (o Overlay) Save(ctx context.Context, p Payload) error { return o.Top.Save(ctx, p) }

func (o Overlay) Load(ctx context.Context, c spatial.ChunkCoord) (Payload, error) {
	p, err := o.Top.Load(ctx, c)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return p, err
	}
	return o.Base.Load(ctx, c)
}

func (o Overlay) Delete(ctx context.Context, c spatial.ChunkCoord) error { return o.Top.Delete(ctx, c) }

// FileStore writes one .chunk.zst file per chunk under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(c spatial.ChunkCoord) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_%d.chunk.zst", c.X, c.Y, c.Z))
}

func (s *FileStore) Save(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.path(p.Coord)
	// Unique temp name per write; concurrent saves of one chunk each rename a whole file.
	f, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := Encode(f, p); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Load(ctx context.Context, c spatial.ChunkCoord) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	f, err := os.Open(s.path(c))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Payload{}, ErrNotFound
		}
		return Payload{}, err
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return Payload{}, fmt.Errorf("load %s: %w", filepath.Base(s.path(c)), err)
	}
	if p.Coord != c {
		return Payload{}, fmt.Errorf("load %v: %w", c, corrupt("stored coord %v", p.Coord))
	}
	return p, nil
}

func (s *FileStore) Delete(_ context.Context, c spatial.ChunkCoord) error {
	err := os.Remove(s.path(c))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
