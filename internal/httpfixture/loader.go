package httpfixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// LoadFile reads rules from a JSON or YAML file, chosen by extension
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var set Set
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("failed to parse YAML fixtures %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("failed to parse JSON fixtures %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture file %s", path)
	}
	return set.Rules, nil
}

// LoadPaths loads rules from files and directories in order. Directories
// contribute their .json, .yaml and .yml files sorted by name.
func LoadPaths(paths ...string) ([]Rule, error) {
	var rules []Rule
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixtures: %w", err)
		}

		files := []string{path}
		if info.IsDir() {
			files, err = fixtureFiles(path)
			if err != nil {
				return nil, err
			}
		}

		for _, f := range files {
			loaded, err := LoadFile(f)
			if err != nil {
				return nil, err
			}
			rules = append(rules, loaded...)
		}
	}
	return rules, nil
}

func fixtureFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
