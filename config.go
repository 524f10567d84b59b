package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/willemv/hgcache/cache"
)

const (
	defaultMasterName  = "master"
	defaultPollTimeout = 2 * time.Minute
)

var (
	defaultRoot = path.Join(os.TempDir(), "hgcache")

	configSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hgcache_config_last_reload_successful",
		Help: "Whether the last configuration reload attempt was successful.",
	})
	configSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hgcache_config_last_reload_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration reload.",
	})
)

// Config is the configuration of the cache daemon
type Config struct {
	// default settings of the cluster
	Defaults DefaultConfig `yaml:"defaults"`
	// List of worker nodes of the cluster
	Nodes []NodeConfig `yaml:"nodes"`
	// List of mirrored repositories
	Repositories []RepositoryConfig `yaml:"repositories"`
}

// DefaultConfig holds cluster wide settings
type DefaultConfig struct {
	// Root is the absolute path to the master's storage root, the
	// authoritative mirrors are kept under <root>/hgcache
	Root string `yaml:"root"`

	// HgExec is the mercurial executable to run, resolved from PATH
	// if not set
	HgExec string `yaml:"hg_exec"`

	// PollTimeout bounds hg operations of syncs requested by polling
	// checks, syncs requested by builds run unbounded
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// TokenSecretPath is the path of the file holding the shared
	// secret used to verify agent bearer tokens
	TokenSecretPath string `yaml:"token_secret_path"`
}

// NodeConfig identifies a worker node and its storage root
type NodeConfig struct {
	// Name of the node, must be unique within the cluster
	Name string `yaml:"name"`

	// Root is the absolute path to the node's storage root, the
	// node's mirrors are kept under <root>/hgcache
	Root string `yaml:"root"`
}

// RepositoryConfig identifies a mirrored remote repository
type RepositoryConfig struct {
	// hg URL of the remote repo to mirror
	Remote string `yaml:"remote"`
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfigKeys(yamlFile); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	return conf, nil
}

func applyDefaults(conf *Config) {
	if conf.Defaults.Root == "" {
		conf.Defaults.Root = defaultRoot
	}

	if conf.Defaults.PollTimeout == 0 {
		conf.Defaults.PollTimeout = defaultPollTimeout
	}
}

// validateConfig verifies semantics of the parsed config
func validateConfig(conf *Config) error {
	var errs []error

	if !filepath.IsAbs(conf.Defaults.Root) {
		errs = append(errs, fmt.Errorf("master storage root '%s' must be absolute", conf.Defaults.Root))
	}

	names := map[string]bool{defaultMasterName: true}
	for _, node := range conf.Nodes {
		if node.Name == "" {
			errs = append(errs, fmt.Errorf("node name cannot be empty"))
			continue
		}
		if names[node.Name] {
			errs = append(errs, fmt.Errorf("duplicate node name '%s'", node.Name))
		}
		names[node.Name] = true

		if !filepath.IsAbs(node.Root) {
			errs = append(errs, fmt.Errorf("storage root '%s' of node '%s' must be absolute", node.Root, node.Name))
		}
	}

	for _, repo := range conf.Repositories {
		if repo.Remote == "" {
			errs = append(errs, fmt.Errorf("repository remote url cannot be empty"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}
	return nil
}

// validateConfigKeys checks all config sections for unexpected keys
func validateConfigKeys(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// defaults and nodes sections are mandatory
	if _, ok := raw["defaults"]; !ok {
		return fmt.Errorf("defaults config section is missing")
	}

	if _, ok := raw["nodes"]; !ok {
		return fmt.Errorf("nodes config section is missing")
	}

	allowedConfig := getAllowedKeys(Config{})
	if key := findUnexpectedKey(raw, allowedConfig); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	// check "defaults" section
	defaultsMap, ok := raw["defaults"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("defaults section is missing or not valid")
	}
	allowedDefaults := getAllowedKeys(DefaultConfig{})
	if key := findUnexpectedKey(defaultsMap, allowedDefaults); key != "" {
		return fmt.Errorf("unexpected key: .defaults.%v", key)
	}

	// check each node in "nodes" section
	nodes, ok := raw["nodes"].([]interface{})
	if !ok {
		return fmt.Errorf("nodes config section is not valid")
	}
	allowedNodeKeys := getAllowedKeys(NodeConfig{})
	for _, nodeInterface := range nodes {
		nodeMap, ok := nodeInterface.(map[string]interface{})
		if !ok {
			return fmt.Errorf("nodes config section is not valid")
		}
		if key := findUnexpectedKey(nodeMap, allowedNodeKeys); key != "" {
			return fmt.Errorf("unexpected key: .nodes[%v].%v", nodeMap["name"], key)
		}
	}

	// check each repository in "repositories" section
	if reposRaw, ok := raw["repositories"]; ok {
		repos, ok := reposRaw.([]interface{})
		if !ok {
			return fmt.Errorf("repositories config section is not valid")
		}
		allowedRepoKeys := getAllowedKeys(RepositoryConfig{})
		for _, repoInterface := range repos {
			repoMap, ok := repoInterface.(map[string]interface{})
			if !ok {
				return fmt.Errorf("repositories config section is not valid")
			}
			if key := findUnexpectedKey(repoMap, allowedRepoKeys); key != "" {
				return fmt.Errorf("unexpected key: .repositories[%v].%v", repoMap["remote"], key)
			}
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	typ := reflect.TypeOf(config)

	for i := 0; i < typ.NumField(); i++ {
		yamlTag := typ.Field(i).Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}

// masterNode returns the coordinating master node of the config
func (conf *Config) masterNode() cache.Node {
	return cache.Node{Name: defaultMasterName, Root: conf.Defaults.Root}
}

// workerNodes returns the configured worker nodes keyed by name
func (conf *Config) workerNodes() map[string]cache.Node {
	nodes := make(map[string]cache.Node, len(conf.Nodes))
	for _, n := range conf.Nodes {
		nodes[n.Name] = cache.Node{Name: n.Name, Root: n.Root}
	}
	return nodes
}

// WatchConfig polls the config file every interval and reloads if modified
func WatchConfig(ctx context.Context, path string, watchConfig bool, interval time.Duration, onChange func(*Config) bool) {
	var lastModTime time.Time
	var success bool

	for {
		lastModTime, success = loadConfig(path, lastModTime, onChange)
		if success {
			configSuccess.Set(1)
			configSuccessTime.SetToCurrentTime()
		} else {
			configSuccess.Set(0)
		}

		if !watchConfig {
			return
		}

		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}

func loadConfig(path string, lastModTime time.Time, onChange func(*Config) bool) (time.Time, bool) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		logger.Error("Error checking config file", "err", err)
		return lastModTime, false
	}

	modTime := fileInfo.ModTime()
	if modTime.Equal(lastModTime) {
		return lastModTime, true
	}

	logger.Info("reloading config file...")

	newConfig, err := parseConfigFile(path)
	if err != nil {
		logger.Error("failed to reload config", "err", err)
		return lastModTime, false
	}
	return modTime, onChange(newConfig)
}
