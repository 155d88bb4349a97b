package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/spatial"
)

type adminEngine interface {
	Config() engine.Config
	Tick() uint64
	Metrics() engine.Metrics
	Origin() *origin.Manager
	FocusCoord() (spatial.ChunkCoord, bool)
	Focus(c spatial.ChunkCoord)
	Edit(c spatial.ChunkCoord, local [3]int, v cell.Cell) error
	RequestSnapshot(ctx context.Context) (uint64, error)
}

type adminState struct {
	WorldID string         `json:"world_id"`
	Tick    uint64         `json:"tick"`
	Focus   *[3]int32      `json:"focus,omitempty"`
	Origin  origin.State   `json:"origin"`
	Metrics engine.Metrics `json:"metrics"`
}

type adminFocusReq struct {
	Chunk [3]int32 `json:"chunk"`
}

type adminEditReq struct {
	Chunk    [3]int32 `json:"chunk"`
	Local    [3]int   `json:"local"`
	Material uint8    `json:"material"`
	Flags    uint8    `json:"flags"`
}

// registerAdmin mounts local-only admin endpoints. None of them bypass the tick boundary.
func registerAdmin(mux *http.ServeMux, eng adminEngine) {
	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		resp := adminState{
			WorldID: eng.Config().WorldID,
			Tick:    eng.Tick(),
			Origin:  eng.Origin().Export(),
			Metrics: eng.Metrics(),
		}
		if f, ok := eng.FocusCoord(); ok {
			resp.Focus = &[3]int32{f.X, f.Y, f.Z}
		}
		writeJSON(rw, http.StatusOK, resp)
	}))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := eng.RequestSnapshot(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
	}))
	mux.HandleFunc("/admin/v1/focus", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req adminFocusReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		c := spatial.ChunkCoord{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]}
		if !spatial.InRange(c) {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": spatial.ErrOutOfRange.Error()})
			return
		}
		eng.Focus(c)
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	}))
	mux.HandleFunc("/admin/v1/edit", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req adminEditReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		c := spatial.ChunkCoord{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]}
		if err := eng.Edit(c, req.Local, cell.New(req.Material, req.Flags)); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true, "after_tick": eng.Tick()})
	}))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
