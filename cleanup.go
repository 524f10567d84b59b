package main

import (
	"os"
	"path/filepath"

	"github.com/willemv/hgcache/cache"
	"github.com/willemv/hgcache/hgurl"
	"github.com/willemv/hgcache/internal/utils"
)

// cleanupOrphanedCaches deletes cache directories from the master's
// storage root which are no longer referenced in config and were
// removed while the app was down. Node side copies are left alone as
// they are repopulated from scratch on the next sync anyway.
// this function is called on startup and whenever config is reloaded
func cleanupOrphanedCaches(config *Config) {
	// if master root is not set caches might not be located in same dir
	if config.Defaults.Root == "" {
		return
	}

	keep := map[string]bool{}
	for _, repo := range config.Repositories {
		keep[hgurl.Identifier(repo.Remote)] = true
	}

	cacheRoot := filepath.Join(config.Defaults.Root, cache.CacheDirName)

	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("unable to read cache root dir for clean up", "err", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if keep[entry.Name()] {
			continue
		}

		fullPath := filepath.Join(cacheRoot, entry.Name())

		// hg keeps its metadata under .hg, skip dirs that are not
		// mercurial repositories
		isRepo, err := utils.DirExists(filepath.Join(fullPath, ".hg"))
		if err != nil {
			logger.Error("unable to check cache dir", "path", fullPath, "err", err)
			continue
		}
		if !isRepo {
			continue
		}

		logger.Info("removing orphaned cache dir...", "path", fullPath)
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Error("unable to remove orphaned cache dir", "path", fullPath, "err", err)
			continue
		}
	}
}
