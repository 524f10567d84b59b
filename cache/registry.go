package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/willemv/hgcache/hgurl"
	"github.com/willemv/hgcache/internal/lock"
)

// DefaultPollTimeout bounds external hg operations of syncs requested
// by lightweight polling checks. Syncs requested by full builds run
// unbounded.
const DefaultPollTimeout = 2 * time.Minute

// Registry is the process wide mapping of repository identifier to its
// Cache. Exactly one Cache exists per distinct identifier at any time
// and entries are never evicted. A Registry is safe for concurrent use
// by multiple goroutines.
type Registry struct {
	log         *slog.Logger
	master      Node
	runner      Runner
	pollTimeout time.Duration

	mu     lock.RWMutex // guards caches
	caches map[string]*Cache
}

// NewRegistry creates the cache registry for the cluster coordinated
// by given master node. All master mirrors live under the master's
// storage root. If pollTimeout is zero DefaultPollTimeout is used.
func NewRegistry(master Node, runner Runner, pollTimeout time.Duration, log *slog.Logger) (*Registry, error) {
	if master.Name == "" {
		return nil, fmt.Errorf("master node name cannot be empty")
	}
	if !filepath.IsAbs(master.Root) {
		return nil, fmt.Errorf("master storage root '%s' must be absolute", master.Root)
	}
	if runner == nil {
		return nil, fmt.Errorf("runner must be provided")
	}
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		log:         log,
		master:      master,
		runner:      runner,
		pollTimeout: pollTimeout,
		caches:      make(map[string]*Cache),
	}, nil
}

// Cache returns the Cache of the given remote url, creating it on
// first request. Urls which differ only in trailing separators share
// one Cache. If two callers race for a new remote exactly one Cache is
// created and returned to both.
func (r *Registry) Cache(remote string) *Cache {
	hash := hgurl.Identifier(remote)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.caches[hash]
	if !ok {
		c = newCache(hgurl.NormaliseURL(remote), hash)
		r.caches[hash] = c
	}
	return c
}

// Master returns the coordinating master node.
func (r *Registry) Master() Node {
	return r.master
}
