// Package config loads and resolves the connector's YAML configuration:
// it merges one or more documents, substitutes environment variables,
// resolves invoke blocks into a closed sum type, and builds the
// resolved App/Flow/Component tree the rest of the runtime consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowkit/connector/internal/config/invoke"
	"github.com/flowkit/connector/internal/connerr"
	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid finding real config
// files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order when no
// explicit path is given: ./config.yaml, ~/.config/connector/config.yaml,
// /config/config.yaml (container convention), /etc/connector/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "connector", "config.yaml"))
	}
	paths = append(paths, "/config/config.yaml")
	paths = append(paths, "/etc/connector/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc() and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Load reads, merges, and resolves the configuration documents at paths,
// using reg to resolve invoke blocks. Each document has ${NAME}/
// ${NAME, default} substitution applied to its raw text before YAML
// parsing; parsed documents are then deep-merged (later overrides
// earlier) before invoke resolution and tree construction.
func Load(paths []string, reg *invoke.Registry) (*Root, error) {
	if len(paths) == 0 {
		return nil, connerr.NewConfigError(fmt.Errorf("config: no document paths given"))
	}

	docs := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, connerr.NewConfigError(fmt.Errorf("config: read %s: %w", p, err))
		}
		expanded := ExpandEnv(string(data))

		var doc map[string]any
		if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, connerr.NewConfigError(fmt.Errorf("config: parse %s: %w", p, err))
		}
		docs = append(docs, doc)
	}

	merged := MergeDocuments(docs)

	resolved, err := ResolveRawValue(merged, reg)
	if err != nil {
		return nil, connerr.NewConfigError(fmt.Errorf("config: resolve invoke blocks: %w", err))
	}
	resolvedMap, ok := resolved.(map[string]any)
	if !ok {
		return nil, connerr.NewConfigError(fmt.Errorf("config: resolved document is not a mapping"))
	}

	root, err := BuildRoot(resolvedMap, reg)
	if err != nil {
		return nil, connerr.NewConfigError(err)
	}
	return root, nil
}
