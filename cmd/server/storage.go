package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"voxelsim.ai/internal/persistence/indexdb"
	"voxelsim.ai/internal/sim/stream"
)

type chunkBackend struct {
	store  stream.Store
	sqlite *indexdb.ChunkStore
	closer io.Closer
}

func (b chunkBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// openChunkStore selects the chunk payload store from VC_CHUNK_BACKEND (sqlite, file, mem).
func openChunkStore(worldDir string) (chunkBackend, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VC_CHUNK_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "sqlite":
		cs, err := indexdb.OpenChunkStore(filepath.Join(worldDir, "chunks", "chunks.sqlite"))
		if err != nil {
			return chunkBackend{}, err
		}
		return chunkBackend{store: cs, sqlite: cs, closer: cs}, nil
	case "file":
		fs, err := stream.NewFileStore(filepath.Join(worldDir, "chunks"))
		if err != nil {
			return chunkBackend{}, err
		}
		return chunkBackend{store: fs}, nil
	case "mem":
		return chunkBackend{store: stream.NewMemStore()}, nil
	default:
		return chunkBackend{}, fmt.Errorf("unsupported VC_CHUNK_BACKEND: %s", backend)
	}
}

// openRuntimeIndex opens the read-model index. It never affects simulation results.
func openRuntimeIndex(worldDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VC_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported VC_INDEX_BACKEND: %s", backend)
	}
}
