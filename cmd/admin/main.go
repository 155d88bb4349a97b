package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/cell"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "focus":
			focusCmd(os.Args[2:])
			return
		case "edit":
			editCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path (default: latest)")
	headerOnly := fs.Bool("header", false, "read only the header line")
	_ = fs.Parse(args)

	path, err := resolveSnapshot(*dataDir, *worldID, *snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(os.Stdout, h)
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(os.Stdout, summarize(path, snap))
}

type snapshotSummary struct {
	Path     string          `json:"path"`
	Header   snapshot.Header `json:"header"`
	Seed     int64           `json:"seed"`
	Edge     int             `json:"edge"`
	Rule     string          `json:"rule"`
	Chunks   int             `json:"chunks"`
	Settled  int             `json:"settled"`
	Alive    int             `json:"alive_cells"`
	Solid    int             `json:"solid_cells"`
	Objects  int             `json:"objects"`
	Focus    *[3]int32       `json:"focus,omitempty"`
	Factor   float64         `json:"budget_factor"`
	OriginAt [3]int64        `json:"origin"`
}

func summarize(path string, snap snapshot.WorldSnapshotV1) snapshotSummary {
	s := snapshotSummary{
		Path:     path,
		Header:   snap.Header,
		Seed:     snap.Seed,
		Edge:     snap.Edge,
		Rule:     snap.Rule,
		Chunks:   len(snap.Chunks),
		Objects:  len(snap.Origin.Objects),
		Focus:    snap.Focus,
		Factor:   snap.Budget.Factor,
		OriginAt: snap.Origin.Origin,
	}
	for _, c := range snap.Chunks {
		if c.Settled {
			s.Settled++
		}
		for _, v := range c.Cells {
			cl := cell.Cell(v)
			if cl.IsSolid() {
				s.Solid++
			}
			if cl.IsAlive() {
				s.Alive++
			}
		}
	}
	return s
}

func resolveSnapshot(dataDir, worldID, path string) (string, error) {
	if p := strings.TrimSpace(path); p != "" {
		return p, nil
	}
	if strings.TrimSpace(worldID) == "" {
		return "", fmt.Errorf("missing -world or -snapshot")
	}
	p, _, err := snapshot.Latest(filepath.Join(dataDir, "worlds", worldID, "snapshots"))
	if err != nil {
		return "", fmt.Errorf("no snapshot found for world %s: %w", worldID, err)
	}
	return p, nil
}

func parseChunk(s string) ([3]int32, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return [3]int32{}, fmt.Errorf("expected x,y,z")
	}
	var out [3]int32
	for i := 0; i < 3; i++ {
		n, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 10, 32)
		if err != nil {
			return [3]int32{}, err
		}
		out[i] = int32(n)
	}
	return out, nil
}
