package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"actiongate/internal/capability/models"
)

// Presets maps a preset name to the grants it provisions at session start.
//
//	presets:
//	  mastering:
//	    - capability: PARAMETER_ADJUSTMENT
//	      ttl: 2h
//	    - capability: RENDER_EXPORT
//	      ttl: 30m
//	      requires_acc: true
type Presets map[string][]models.PresetEntry

type presetsFile struct {
	Presets Presets `yaml:"presets"`
}

func LoadPresets(path string) (Presets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open presets: %w", err)
	}
	defer f.Close()
	return ParsePresets(f)
}

// ParsePresets rejects unknown capabilities and non-positive TTLs so a bad
// file fails at startup rather than at the first check.
func ParsePresets(r io.Reader) (Presets, error) {
	var file presetsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	for name, entries := range file.Presets {
		for i, e := range entries {
			if !e.Capability.IsValid() {
				return nil, fmt.Errorf("preset %s entry %d: unknown capability %q", name, i, e.Capability)
			}
			if e.TTL <= 0 {
				return nil, fmt.Errorf("preset %s entry %d: ttl must be positive", name, i)
			}
		}
	}
	if file.Presets == nil {
		file.Presets = Presets{}
	}
	return file.Presets, nil
}

// Lookup returns the named preset.
func (p Presets) Lookup(name string) ([]models.PresetEntry, error) {
	entries, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not defined", name)
	}
	return entries, nil
}
