package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/willemv/hgcache/cache"
)

func Test_validateConfigKeys(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			"valid",
			`
defaults:
  root: /data/master
  hg_exec: /usr/bin/hg
  poll_timeout: 2m
  token_secret_path: /etc/hgcache/secret
nodes:
  - name: node-1
    root: /data/node-1
repositories:
  - remote: https://hg.host.xz/path/to/repo
`,
			false,
		},
		{
			"missing_defaults",
			`
nodes:
  - name: node-1
    root: /data/node-1
`,
			true,
		},
		{
			"missing_nodes",
			`
defaults:
  root: /data/master
`,
			true,
		},
		{
			"unexpected_top_level_key",
			`
defaults:
  root: /data/master
nodes: []
workers: []
`,
			true,
		},
		{
			"unexpected_defaults_key",
			`
defaults:
  root: /data/master
  interval: 30s
nodes: []
`,
			true,
		},
		{
			"unexpected_node_key",
			`
defaults:
  root: /data/master
nodes:
  - name: node-1
    root: /data/node-1
    link_root: /links
`,
			true,
		},
		{
			"unexpected_repository_key",
			`
defaults:
  root: /data/master
nodes: []
repositories:
  - remote: https://hg.host.xz/path/to/repo
    branch: default
`,
			true,
		},
		{
			"not_yaml",
			`{{`,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfigKeys([]byte(tt.yaml)); (err != nil) != tt.wantErr {
				t.Errorf("validateConfigKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_validateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			"valid",
			&Config{
				Defaults: DefaultConfig{Root: "/data/master"},
				Nodes: []NodeConfig{
					{Name: "node-1", Root: "/data/node-1"},
					{Name: "node-2", Root: "/data/node-2"},
				},
				Repositories: []RepositoryConfig{
					{Remote: "https://hg.host.xz/path/to/repo"},
				},
			},
			false,
		},
		{
			"relative_master_root",
			&Config{
				Defaults: DefaultConfig{Root: "data/master"},
			},
			true,
		},
		{
			"empty_node_name",
			&Config{
				Defaults: DefaultConfig{Root: "/data/master"},
				Nodes:    []NodeConfig{{Name: "", Root: "/data/node-1"}},
			},
			true,
		},
		{
			"duplicate_node_name",
			&Config{
				Defaults: DefaultConfig{Root: "/data/master"},
				Nodes: []NodeConfig{
					{Name: "node-1", Root: "/data/node-1"},
					{Name: "node-1", Root: "/data/node-1b"},
				},
			},
			true,
		},
		{
			"node_named_master",
			&Config{
				Defaults: DefaultConfig{Root: "/data/master"},
				Nodes:    []NodeConfig{{Name: "master", Root: "/data/node-1"}},
			},
			true,
		},
		{
			"relative_node_root",
			&Config{
				Defaults: DefaultConfig{Root: "/data/master"},
				Nodes:    []NodeConfig{{Name: "node-1", Root: "data/node-1"}},
			},
			true,
		},
		{
			"empty_remote",
			&Config{
				Defaults:     DefaultConfig{Root: "/data/master"},
				Repositories: []RepositoryConfig{{Remote: ""}},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfig(tt.config); (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_parseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
defaults:
  root: /data/master
  hg_exec: /usr/bin/hg
  poll_timeout: 90s
  token_secret_path: /etc/hgcache/secret
nodes:
  - name: node-1
    root: /data/node-1
repositories:
  - remote: https://hg.host.xz/path/to/repo
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	got, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	want := &Config{
		Defaults: DefaultConfig{
			Root:            "/data/master",
			HgExec:          "/usr/bin/hg",
			PollTimeout:     90 * time.Second,
			TokenSecretPath: "/etc/hgcache/secret",
		},
		Nodes: []NodeConfig{{Name: "node-1", Root: "/data/node-1"}},
		Repositories: []RepositoryConfig{
			{Remote: "https://hg.host.xz/path/to/repo"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseConfigFile() mismatch (-want +got):\n%s", diff)
	}
}

func Test_applyDefaults(t *testing.T) {
	conf := &Config{}
	applyDefaults(conf)

	if conf.Defaults.Root != defaultRoot {
		t.Errorf("applyDefaults() root = %s, want %s", conf.Defaults.Root, defaultRoot)
	}
	if conf.Defaults.PollTimeout != defaultPollTimeout {
		t.Errorf("applyDefaults() poll_timeout = %s, want %s", conf.Defaults.PollTimeout, defaultPollTimeout)
	}

	conf = &Config{Defaults: DefaultConfig{Root: "/data/master", PollTimeout: time.Minute}}
	applyDefaults(conf)

	if conf.Defaults.Root != "/data/master" || conf.Defaults.PollTimeout != time.Minute {
		t.Errorf("applyDefaults() overrode explicit values: %+v", conf.Defaults)
	}
}

func Test_workerNodes(t *testing.T) {
	conf := &Config{
		Defaults: DefaultConfig{Root: "/data/master"},
		Nodes: []NodeConfig{
			{Name: "node-1", Root: "/data/node-1"},
			{Name: "node-2", Root: "/data/node-2"},
		},
	}

	want := map[string]cache.Node{
		"node-1": {Name: "node-1", Root: "/data/node-1"},
		"node-2": {Name: "node-2", Root: "/data/node-2"},
	}
	if diff := cmp.Diff(want, conf.workerNodes()); diff != "" {
		t.Errorf("workerNodes() mismatch (-want +got):\n%s", diff)
	}

	master := conf.masterNode()
	if master.Name != defaultMasterName || master.Root != "/data/master" {
		t.Errorf("masterNode() = %+v", master)
	}
}
