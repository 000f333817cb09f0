package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/credalabs/credence/pkg/governance"
)

// Profile is a named governance policy preset. Profiles may be
// partial: policy fields absent from the YAML keep their defaults.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Policy      governance.Config `yaml:"policy"`
}

// LoadProfile reads profile_<name>.yaml from dir, layers it over the
// default policy, and validates the result.
func LoadProfile(dir, name string) (*Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}
	return loadProfileFile(profilePath(dir, name), name)
}

// LoadAllProfiles reads every profile_*.yaml in dir, keyed by profile
// name. A directory without profiles yields an empty map.
func LoadAllProfiles(dir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "profile_*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan profiles in %s: %w", dir, err)
	}
	sort.Strings(matches)

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		name := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		p, err := loadProfileFile(path, name)
		if err != nil {
			return nil, err
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

func profilePath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", name))
}

func loadProfileFile(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}
	p := Profile{Policy: governance.DefaultConfig()}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if err := p.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return &p, nil
}
