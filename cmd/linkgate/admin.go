package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"linkgate.ai/internal/persistence/indexdb"
	"linkgate.ai/internal/persistence/snapshot"
	"linkgate.ai/internal/sim/link"
	"linkgate.ai/internal/sim/objstore"
	"linkgate.ai/internal/transport/gate"
	"linkgate.ai/internal/transport/ws"
)

// adminAPI serves local-only inspection endpoints.
type adminAPI struct {
	store   *objstore.Store
	gate    *gate.Gate
	hub     *ws.Hub
	index   *indexdb.SQLiteIndex
	dataDir string

	mu   sync.Mutex
	last link.PassStats
}

func (a *adminAPI) register(mux *http.ServeMux, cycle *link.Cycle) {
	if cycle != nil {
		cycle.Observe(a)
	}
	mux.HandleFunc("/admin/v1/state", a.loopback(a.handleState))
	mux.HandleFunc("/admin/v1/object", a.loopback(a.handleObject))
	mux.HandleFunc("/admin/v1/export", a.loopback(a.handleExport))
}

// ObservePass implements link.Observer.
func (a *adminAPI) ObservePass(r link.PassReport) {
	a.mu.Lock()
	a.last = r.Stats
	a.mu.Unlock()
}

func (a *adminAPI) lastPass() link.PassStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *adminAPI) loopback(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		PeerID    objstore.PeerID `json:"peer_id"`
		Version   string          `json:"version"`
		Objects   int             `json:"objects"`
		Sessions  int             `json:"sessions"`
		Validated int             `json:"validated"`
		Active    int             `json:"active"`
		LastPass  link.PassStats  `json:"last_pass"`
		Index     *indexdb.Stats  `json:"index,omitempty"`
	}{
		PeerID:    a.store.Self(),
		Version:   a.gate.Version(),
		Objects:   a.store.Len(),
		Sessions:  a.gate.Sessions().Len(),
		Validated: a.gate.Sessions().ValidatedCount(),
		Active:    a.hub.Active(),
		LastPass:  a.lastPass(),
	}
	if a.index != nil {
		st := a.index.Stats()
		resp.Index = &st
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *adminAPI) handleObject(rw http.ResponseWriter, r *http.Request) {
	id, err := objstore.ParseObjectID(r.URL.Query().Get("id"))
	if err != nil || id.IsNone() {
		http.Error(rw, "bad id", http.StatusBadRequest)
		return
	}
	obj, ok := a.store.Get(id)
	if !ok {
		http.Error(rw, "not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{"object": obj}
	if a.index != nil {
		if rows, err := a.index.ChangesFor(r.Context(), id.String()); err == nil {
			resp["history"] = rows
		}
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *adminAPI) handleExport(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	last := a.lastPass()
	path := filepath.Join(a.dataDir, "exports", fmt.Sprintf("%d-%s.jsonl.zst", last.Pass, time.Now().UTC().Format("20060102T150405")))
	objs := a.store.Snapshot()
	err := snapshot.WriteExport(path, snapshot.Export{
		Header:  snapshot.Header{PeerID: a.store.Self(), Pass: last.Pass},
		Objects: objs,
	})
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "objects": len(objs)})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
