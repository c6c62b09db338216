package session

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Profile is the session policy of one environment.
type Profile struct {
	Name            string        `yaml:"-"`
	Aliases         []string      `yaml:"aliases"`
	Duration        time.Duration `yaml:"duration"`
	AutoCleanup     bool          `yaml:"auto_cleanup"`
	Warnings        bool          `yaml:"warnings"`
	WarningWindow   time.Duration `yaml:"warning_window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type profileDocument struct {
	Defaults struct {
		WarningWindow   time.Duration `yaml:"warning_window"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"defaults"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profiles indexes profiles by name and alias.
type Profiles struct {
	byName   map[string]Profile
	fallback string
}

// DefaultProfiles returns the built-in profile set.
func DefaultProfiles() Profiles {
	p, err := ParseProfiles(defaultProfiles)
	if err != nil {
		panic(fmt.Sprintf("session: embedded profiles: %v", err))
	}
	return p
}

// LoadProfiles reads a profile document from path, or the built-in set when
// path is empty.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profiles{}, fmt.Errorf("session: read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes a YAML profile document.
func ParseProfiles(data []byte) (Profiles, error) {
	var doc profileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Profiles{}, fmt.Errorf("session: parse profiles: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return Profiles{}, fmt.Errorf("session: no profiles defined")
	}
	out := Profiles{byName: make(map[string]Profile), fallback: "development"}
	for name, p := range doc.Profiles {
		if p.Duration <= 0 {
			return Profiles{}, fmt.Errorf("session: profile %q: duration must be positive", name)
		}
		p.Name = name
		if p.WarningWindow <= 0 {
			p.WarningWindow = doc.Defaults.WarningWindow
		}
		if p.CleanupInterval <= 0 {
			p.CleanupInterval = doc.Defaults.CleanupInterval
		}
		out.byName[strings.ToLower(name)] = p
		for _, alias := range p.Aliases {
			out.byName[strings.ToLower(alias)] = p
		}
	}
	if _, ok := out.byName[out.fallback]; !ok {
		for name := range doc.Profiles {
			out.fallback = strings.ToLower(name)
			break
		}
	}
	return out, nil
}

// For returns the profile for env; unknown environments get the development
// profile.
func (p Profiles) For(env string) Profile {
	if prof, ok := p.byName[strings.ToLower(strings.TrimSpace(env))]; ok {
		return prof
	}
	return p.byName[p.fallback]
}
