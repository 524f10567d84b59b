package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/willemv/hgcache/auth"
	"github.com/willemv/hgcache/cache"
	"github.com/willemv/hgcache/internal/lock"
)

// SyncRequest is the JSON body posted by a build agent before it runs
// a build that needs a local mirror of remote
type SyncRequest struct {
	Remote      string `json:"remote"`
	Node        string `json:"node"`
	FromPolling bool   `json:"from_polling"`
}

// SyncResponse carries the path of the up to date mirror on the
// requested node
type SyncResponse struct {
	Path string `json:"path"`
}

type SyncHandler struct {
	registry *cache.Registry
	secret   []byte
	log      *slog.Logger

	mu    lock.RWMutex
	nodes map[string]cache.Node
}

func NewSyncHandler(registry *cache.Registry, secret []byte, log *slog.Logger) *SyncHandler {
	return &SyncHandler{
		registry: registry,
		secret:   secret,
		log:      log,
		nodes:    map[string]cache.Node{},
	}
}

// SetNodes replaces the set of known worker nodes, called on config reload
func (sh *SyncHandler) SetNodes(nodes map[string]cache.Node) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.nodes = nodes
}

func (sh *SyncHandler) node(name string) (cache.Node, bool) {
	if name == sh.registry.Master().Name {
		return sh.registry.Master(), true
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	node, ok := sh.nodes[name]
	return node, ok
}

func (sh *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rawToken, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tokenNode, err := auth.VerifyToken(sh.secret, rawToken)
	if err != nil {
		sh.log.Error("invalid bearer token", "err", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sh.log.Error("cannot unmarshal json payload", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// a token only grants syncs onto the node it was issued for
	if payload.Node != tokenNode {
		sh.log.Error("token node mismatch", "token_node", tokenNode, "requested_node", payload.Node)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	node, ok := sh.node(payload.Node)
	if !ok {
		http.Error(w, "unknown node", http.StatusNotFound)
		return
	}

	path, err := sh.registry.Sync(r.Context(), payload.Remote, node, payload.FromPolling)
	if err != nil {
		sh.log.Error("sync failed", "remote", payload.Remote, "node", payload.Node, "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(SyncResponse{Path: path}); err != nil {
		sh.log.Error("cannot write response", "err", err)
	}
}
