package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

// ChunkStore keeps encoded chunk payloads as sqlite blobs keyed by chunk coordinate.
// It implements stream.Store.
type ChunkStore struct {
	db *sql.DB
}

var _ stream.Store = (*ChunkStore)(nil)

func OpenChunkStore(path string) (*ChunkStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		cx INTEGER NOT NULL,
		cy INTEGER NOT NULL,
		cz INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (cx, cy, cz)
	);`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ChunkStore{db: db}, nil
}

func (s *ChunkStore) Close() error { return s.db.Close() }

func (s *ChunkStore) Save(ctx context.Context, p stream.Payload) error {
	b, err := stream.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks(cx,cy,cz,tick,bytes,payload) VALUES(?,?,?,?,?,?)`,
		p.Coord.X, p.Coord.Y, p.Coord.Z, int64(p.Tick), len(b), b)
	if err != nil {
		return fmt.Errorf("save chunk %v: %w", p.Coord, err)
	}
	return nil
}

func (s *ChunkStore) Load(ctx context.Context, c spatial.ChunkCoord) (stream.Payload, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chunks WHERE cx=? AND cy=? AND cz=?`, c.X, c.Y, c.Z).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Payload{}, stream.ErrNotFound
	}
	if err != nil {
		return stream.Payload{}, fmt.Errorf("load chunk %v: %w", c, err)
	}
	p, err := stream.Unmarshal(b)
	if err != nil {
		return stream.Payload{}, err
	}
	if p.Coord != c {
		return stream.Payload{}, fmt.Errorf("chunk row %v holds %v: %w", c, p.Coord, stream.ErrCorruptPayload)
	}
	return p, nil
}

func (s *ChunkStore) Delete(ctx context.Context, c spatial.ChunkCoord) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE cx=? AND cy=? AND cz=?`, c.X, c.Y, c.Z)
	return err
}

// PutRaw stores bytes without validation.
func (s *ChunkStore) PutRaw(c spatial.ChunkCoord, b []byte) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO chunks(cx,cy,cz,tick,bytes,payload) VALUES(?,?,?,?,?,?)`,
		c.X, c.Y, c.Z, 0, len(b), b)
	return err
}

type ChunkStoreStats struct {
	Chunks int
	Bytes  int64
}

func (s *ChunkStore) Stats(ctx context.Context) (ChunkStoreStats, error) {
	var st ChunkStoreStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(bytes),0) FROM chunks`).Scan(&st.Chunks, &st.Bytes)
	return st, err
}
