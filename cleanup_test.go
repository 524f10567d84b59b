package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/willemv/hgcache/cache"
	"github.com/willemv/hgcache/hgurl"
)

func Test_cleanupOrphanedCaches(t *testing.T) {
	root := t.TempDir()
	cacheRoot := filepath.Join(root, cache.CacheDirName)

	keptRemote := "https://hg.host.xz/path/to/repo"
	orphanRemote := "https://hg.host.xz/path/to/removed"

	mkCache := func(name string) {
		if err := os.MkdirAll(filepath.Join(cacheRoot, name, ".hg"), 0755); err != nil {
			t.Fatalf("unexpected err:%s", err)
		}
	}

	mkCache(hgurl.Identifier(keptRemote))
	mkCache(hgurl.Identifier(orphanRemote))

	// dir without .hg metadata is not a mirror and must survive
	if err := os.MkdirAll(filepath.Join(cacheRoot, "scratch"), 0755); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	conf := &Config{
		Defaults:     DefaultConfig{Root: root},
		Repositories: []RepositoryConfig{{Remote: keptRemote}},
	}
	cleanupOrphanedCaches(conf)

	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	var got []string
	for _, entry := range entries {
		got = append(got, entry.Name())
	}
	slices.Sort(got)

	want := []string{hgurl.Identifier(keptRemote), "scratch"}
	slices.Sort(want)

	if !slices.Equal(got, want) {
		t.Errorf("cleanupOrphanedCaches() left %v, want %v", got, want)
	}
}

func Test_cleanupOrphanedCaches_missing_root(t *testing.T) {
	// no cache dir yet, must be a no-op
	conf := &Config{Defaults: DefaultConfig{Root: filepath.Join(t.TempDir(), "nonexistent")}}
	cleanupOrphanedCaches(conf)

	conf = &Config{}
	cleanupOrphanedCaches(conf)
}
