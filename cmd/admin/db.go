package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"voxelsim.ai/internal/persistence/indexdb"
)

type dbQuery struct {
	Name  string
	Since uint64
	Limit int
	// Coord filters chunk_ops and edits when set.
	Coord *[3]int32
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	since := fs.Uint64("since", 0, "first tick (ticks, ops, edits)")
	limit := fs.Int("limit", 20, "result limit")
	chunk := fs.String("chunk", "", "chunk filter x,y,z (ops, edits)")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", Since: *since, Limit: *limit}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}
	if s := strings.TrimSpace(*chunk); s != "" {
		c, err := parseChunk(s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", err)
			os.Exit(2)
		}
		q.Coord = &c
	}

	if strings.TrimSpace(*dbPath) == "" && strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world or -db")
		os.Exit(2)
	}
	worldDir := filepath.Join(*dataDir, "worlds", *worldID)

	if q.Name == "chunkstore" {
		path := strings.TrimSpace(*dbPath)
		if path == "" {
			path = filepath.Join(worldDir, "chunks", "chunks.sqlite")
		}
		if err := chunkStoreStats(path, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "chunkstore:", err)
			os.Exit(1)
		}
		return
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(worldDir, "index", "world.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q dbQuery, w io.Writer) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	switch q.Name {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,edge,rule,chunks,objects FROM snapshots ORDER BY tick DESC LIMIT ?`, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Path    string `json:"path"`
				Seed    int64  `json:"seed"`
				Edge    int    `json:"edge"`
				Rule    string `json:"rule"`
				Chunks  int    `json:"chunks"`
				Objects int    `json:"objects"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Edge, &r.Rule, &r.Chunks, &r.Objects); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,shells,factor,stepped,skipped,changed,cost_ns FROM ticks WHERE tick>=? ORDER BY tick LIMIT ?`, q.Since, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64   `json:"tick"`
				Digest  string  `json:"digest"`
				Shells  int     `json:"shells"`
				Factor  float64 `json:"factor"`
				Stepped int     `json:"stepped"`
				Skipped int     `json:"skipped"`
				Changed int     `json:"changed"`
				CostNS  int64   `json:"cost_ns"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Shells, &r.Factor, &r.Stepped, &r.Skipped, &r.Changed, &r.CostNS); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "ops":
		query := `SELECT tick,seq,op,cx,cy,cz FROM chunk_ops WHERE tick>=?`
		args := []any{q.Since}
		if q.Coord != nil {
			query += ` AND cx=? AND cy=? AND cz=?`
			args = append(args, q.Coord[0], q.Coord[1], q.Coord[2])
		}
		query += ` ORDER BY tick, seq LIMIT ?`
		args = append(args, q.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64    `json:"tick"`
				Seq   int      `json:"seq"`
				Op    string   `json:"op"`
				Chunk [3]int32 `json:"chunk"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Op, &r.Chunk[0], &r.Chunk[1], &r.Chunk[2]); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "edits":
		query := `SELECT tick,seq,cx,cy,cz,lx,ly,lz,cell FROM edits WHERE tick>=?`
		args := []any{q.Since}
		if q.Coord != nil {
			query += ` AND cx=? AND cy=? AND cz=?`
			args = append(args, q.Coord[0], q.Coord[1], q.Coord[2])
		}
		query += ` ORDER BY tick, seq LIMIT ?`
		args = append(args, q.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64    `json:"tick"`
				Seq   int      `json:"seq"`
				Chunk [3]int32 `json:"chunk"`
				Local [3]int   `json:"local"`
				Cell  uint16   `json:"cell"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Chunk[0], &r.Chunk[1], &r.Chunk[2], &r.Local[0], &r.Local[1], &r.Local[2], &r.Cell); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "configs":
		rows, err := db.Query(`SELECT name,digest,json,updated_at FROM configs ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string          `json:"name"`
				Digest    string          `json:"digest"`
				Config    json.RawMessage `json:"config"`
				UpdatedAt string          `json:"updated_at"`
			}
			var raw string
			if err := rows.Scan(&r.Name, &r.Digest, &raw, &r.UpdatedAt); err != nil {
				return err
			}
			r.Config = json.RawMessage(raw)
			printJSON(w, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (snapshots|ticks|ops|edits|configs|chunkstore)", q.Name)
	}
}

func chunkStoreStats(path string, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	cs, err := indexdb.OpenChunkStore(path)
	if err != nil {
		return err
	}
	defer cs.Close()
	st, err := cs.Stats(context.Background())
	if err != nil {
		return err
	}
	printJSON(w, map[string]any{
		"path":   path,
		"chunks": st.Chunks,
		"bytes":  st.Bytes,
		"size":   humanize.Bytes(uint64(st.Bytes)),
	})
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
