package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// variableProfile is the on-disk shape of a variable profile file: a YAML
// document with one `variables` list, shareable between driver entries that
// talk to identical endpoints.
type variableProfile struct {
	Variables []VariableConfig `yaml:"variables"`
}

// ProfileLoader resolves and caches variable profile files referenced from
// driver entries.
type ProfileLoader struct {
	cache       sync.Map
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) *ProfileLoader {
	return &ProfileLoader{searchPaths: searchPaths}
}

// Load reads a profile by name, searching the configured paths. The name is
// used as given when it already carries an extension, otherwise `.yaml` is
// appended.
func (l *ProfileLoader) Load(profile string) ([]VariableConfig, error) {
	if cached, ok := l.cache.Load(profile); ok {
		return cached.([]VariableConfig), nil
	}

	name := profile
	if filepath.Ext(name) == "" {
		name += ".yaml"
	}

	var data []byte
	var err error

	paths := l.searchPaths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, searchPath := range paths {
		data, err = os.ReadFile(filepath.Join(searchPath, name))
		if err == nil {
			break
		}
	}
	if data == nil {
		return nil, fmt.Errorf("profile not found: %s (searched in: %v)", profile, paths)
	}

	var parsed variableProfile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", profile, err)
	}

	l.cache.Store(profile, parsed.Variables)
	return parsed.Variables, nil
}

// ClearCache drops all cached profiles.
func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
