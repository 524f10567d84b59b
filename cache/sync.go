package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/willemv/hgcache/internal/utils"
)

// name of the transfer bundle on the node side. the master side name
// is per node, see masterBundleFile
const nodeBundleFile = "xfer.hg"

// masterBundleFile returns the name of the transfer bundle created in
// the master mirror for given node. It is node specific as multiple
// nodes may sync the same repository in parallel, each using its own
// bundle.
func masterBundleFile(nodeName string) string {
	return "xfer-" + nodeName + ".hg"
}

// Sync materialises an up to date mirror of remote on the given node
// and returns its path. The master mirror is always refreshed first
// under the cache's master lock, then the node mirror is synchronised
// from it under the (cache, node) lock. Mirrors of different nodes
// sync in parallel once the master mirror is fresh. fromPolling bounds
// external hg operations with the registry's poll timeout.
//
// On failure the returned error carries the reason and a message has
// already been written to the log, no path is returned.
func (r *Registry) Sync(ctx context.Context, remote string, node Node, fromPolling bool) (string, error) {
	c := r.Cache(remote)
	log := r.log.With("repo", c.hash, "node", node.Name)

	defer updateSyncLatency(c.hash, node.Name, time.Now())

	if err := r.updateMaster(ctx, c, fromPolling, log); err != nil {
		recordSync(c.hash, node.Name, false)
		return "", err
	}

	// master itself needs no node level work
	if node.Name == r.master.Name {
		recordSync(c.hash, node.Name, true)
		return r.master.CachePath(c.hash), nil
	}

	path, err := r.syncNode(ctx, c, node, fromPolling, log)
	recordSync(c.hash, node.Name, err == nil)
	return path, err
}

// updateMaster refreshes the master mirror of c, pulling from the
// remote if the mirror exists and cloning it otherwise. The master
// lock is held for the duration of the mutation and released on every
// exit path, before any node level work starts.
func (r *Registry) updateMaster(ctx context.Context, c *Cache, fromPolling bool, log *slog.Logger) error {
	if c.masterLock.Locked() {
		log.Info("waiting for master cache lock")
	}
	if err := c.masterLock.Lock(ctx); err != nil {
		return fmt.Errorf("unable to acquire master cache lock err:%w", err)
	}
	defer func() {
		c.masterLock.Unlock()
		log.Debug("master cache lock released")
	}()
	log.Debug("acquired master cache lock")

	masterCache := r.master.CachePath(c.hash)

	exists, err := utils.DirExists(masterCache)
	if err != nil {
		return fmt.Errorf("unable to verify master cache dir err:%w", err)
	}

	opCtx, cancel := r.opContext(ctx, fromPolling)
	defer cancel()

	if exists {
		if err := r.runner.Pull(opCtx, masterCache); err != nil {
			log.Error("failed to update master cache", "path", masterCache, "err", err)
			return fmt.Errorf("unable to update master cache of %s err:%w", c.remote, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(masterCache), utils.DefaultDirMode); err != nil {
		return fmt.Errorf("unable to create master caches dir err:%w", err)
	}
	if err := r.runner.Clone(opCtx, c.remote, masterCache); err != nil {
		log.Error("failed to clone remote into master cache", "remote", c.remote, "err", err)
		return fmt.Errorf("unable to clone %s err:%w", c.remote, err)
	}
	return nil
}

// syncNode brings the node mirror of c up to date with the master
// mirror under the (cache, node) lock. The master lock is already
// released at this point, master mirror reads here are safe because
// this request's own master update has completed and hg read
// operations tolerate each other.
func (r *Registry) syncNode(ctx context.Context, c *Cache, node Node, fromPolling bool, log *slog.Logger) (string, error) {
	nl := c.nodeLock(node.Name)
	if nl.Locked() {
		log.Info("waiting for node cache lock")
	}
	if err := nl.Lock(ctx); err != nil {
		return "", fmt.Errorf("unable to acquire node cache lock err:%w", err)
	}
	defer func() {
		nl.Unlock()
		log.Debug("node cache lock released")
	}()
	log.Debug("acquired node cache lock")

	masterCache := r.master.CachePath(c.hash)
	nodeCache := node.CachePath(c.hash)

	bundleFile := masterBundleFile(node.Name)
	masterTransfer := filepath.Join(masterCache, bundleFile)
	nodeTransfer := filepath.Join(nodeCache, nodeBundleFile)

	// transfer bundles are transient, remove them on every exit path
	// whether or not a transfer happened. a cleanup failure is logged
	// but never masks the sync outcome
	defer func() {
		if err := utils.RemoveIfExists(masterTransfer); err != nil {
			log.Error("unable to remove master transfer bundle", "path", masterTransfer, "err", err)
		}
		if err := utils.RemoveIfExists(nodeTransfer); err != nil {
			log.Error("unable to remove node transfer bundle", "path", nodeTransfer, "err", err)
		}
	}()

	opCtx, cancel := r.opContext(ctx, fromPolling)
	defer cancel()

	exists, err := utils.DirExists(nodeCache)
	if err != nil {
		return "", fmt.Errorf("unable to verify node cache dir err:%w", err)
	}

	if exists {
		// only newly available changesets need to be transferred
		masterHeads, err := r.runner.Heads(opCtx, masterCache)
		if err != nil {
			log.Error("failed to get master cache heads", "err", err)
			return "", fmt.Errorf("unable to get master cache heads err:%w", err)
		}
		nodeHeads, err := r.runner.Heads(opCtx, nodeCache)
		if err != nil {
			log.Error("failed to get node cache heads", "err", err)
			return "", fmt.Errorf("unable to get node cache heads err:%w", err)
		}

		if sameHeads(masterHeads, nodeHeads) {
			log.Debug("node cache is up to date")
			return nodeCache, nil
		}

		// node heads are passed as bundle bases to exclude history the
		// node already has. the exclusion is best effort, hg may fail
		// to intersect ancestry perfectly and include more than the
		// strict minimum, which costs transfer size not correctness
		if err := r.runner.Bundle(opCtx, masterCache, bundleFile, nodeHeads); err != nil {
			log.Error("failed to bundle outgoing changesets", "err", err)
			return "", fmt.Errorf("unable to bundle outgoing changesets err:%w", err)
		}
	} else {
		// the entire history needs to be transferred
		if err := r.runner.BundleAll(opCtx, masterCache, bundleFile); err != nil {
			log.Error("failed to bundle master cache", "err", err)
			return "", fmt.Errorf("unable to bundle master cache err:%w", err)
		}
		if err := os.MkdirAll(filepath.Dir(nodeCache), utils.DefaultDirMode); err != nil {
			return "", fmt.Errorf("unable to create node caches dir err:%w", err)
		}
		if err := r.runner.Init(opCtx, nodeCache); err != nil {
			log.Error("failed to init node cache", "err", err)
			return "", fmt.Errorf("unable to init node cache err:%w", err)
		}
	}

	produced, err := utils.FileExists(masterTransfer)
	if err != nil {
		return "", fmt.Errorf("unable to verify transfer bundle err:%w", err)
	}
	if produced {
		if err := utils.CopyFile(masterTransfer, nodeTransfer); err != nil {
			log.Error("failed to copy transfer bundle to node", "err", err)
			return "", fmt.Errorf("unable to copy transfer bundle to node err:%w", err)
		}
		if err := r.runner.Unbundle(opCtx, nodeCache, nodeBundleFile); err != nil {
			log.Error("failed to unbundle transferred changesets", "err", err)
			return "", fmt.Errorf("unable to unbundle %s err:%w", nodeTransfer, err)
		}
	}

	return nodeCache, nil
}

// opContext bounds ctx with the poll timeout when the sync was
// requested by a lightweight polling check rather than a full build.
func (r *Registry) opContext(ctx context.Context, fromPolling bool) (context.Context, context.CancelFunc) {
	if fromPolling {
		return context.WithTimeout(ctx, r.pollTimeout)
	}
	return context.WithCancel(ctx)
}

// sameHeads compares two head sets ignoring order.
func sameHeads(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, h := range a {
		set[h] = true
	}
	for _, h := range b {
		if !set[h] {
			return false
		}
	}
	return true
}
