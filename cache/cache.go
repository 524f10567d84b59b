// Package cache maintains a two-tier mirror cache of remote Mercurial
// repositories inside a build cluster. One authoritative mirror is kept
// on the coordinating master node and one derived mirror per worker
// node is synchronised from it with incremental change set bundles, so
// builds never re-fetch the full remote history.
package cache

import (
	"path/filepath"

	"github.com/willemv/hgcache/internal/lock"
)

// CacheDirName is the directory under each node's storage root which
// holds the repository mirrors.
const CacheDirName = "hgcache"

// Node identifies a member of the build cluster and the absolute root
// of its cache storage.
type Node struct {
	Name string
	Root string
}

// CachePath returns path of the mirror of the repository identified by
// hash on this node's storage.
func (n Node) CachePath(hash string) string {
	return filepath.Join(n.Root, CacheDirName, hash)
}

// Cache identifies one mirrored remote repository. It owns the master
// mirror lock and the lazily created per node mirror locks. A Cache is
// safe for concurrent use by multiple goroutines. Caches live for the
// registry lifetime, they are never destroyed.
type Cache struct {
	remote string // canonical remote url, always with trailing "/"
	hash   string // identifier derived from remote, doubles as dir name

	// serialises all master mirror mutations, fair so concurrent
	// builds update the master in arrival order
	masterLock lock.Fair

	nodeMu    lock.Mutex // guards creation of node locks only
	nodeLocks map[string]*lock.Fair
}

func newCache(remote, hash string) *Cache {
	return &Cache{
		remote:    remote,
		hash:      hash,
		nodeLocks: make(map[string]*lock.Fair),
	}
}

// Remote returns the canonical remote url of the mirrored repository.
func (c *Cache) Remote() string {
	return c.remote
}

// Hash returns the filesystem-safe identifier of the repository.
func (c *Cache) Hash() string {
	return c.hash
}

// nodeLock returns the fair lock of the given node, creating it on
// first request. Only the creation is guarded, the returned lock is
// acquired without holding nodeMu so lock waits of different nodes
// never serialise each other.
func (c *Cache) nodeLock(nodeName string) *lock.Fair {
	c.nodeMu.Lock()
	defer c.nodeMu.Unlock()

	nl, ok := c.nodeLocks[nodeName]
	if !ok {
		nl = &lock.Fair{}
		c.nodeLocks[nodeName] = nl
	}
	return nl
}
