package frame

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest declares a set of CSV datasets to load together.
type Manifest struct {
	Datasets []Dataset `yaml:"datasets"`
}

// Dataset is a single CSV file entry in a manifest.
type Dataset struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Description string `yaml:"description,omitempty"`
}

// ReadManifest parses a YAML dataset manifest. Relative dataset paths are
// resolved against the manifest's directory.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Datasets) == 0 {
		return nil, fmt.Errorf("manifest %s declares no datasets", path)
	}

	base := filepath.Dir(path)
	for i := range m.Datasets {
		d := &m.Datasets[i]
		if d.Path == "" {
			return nil, fmt.Errorf("manifest dataset %d has no path", i)
		}
		if !filepath.IsAbs(d.Path) {
			d.Path = filepath.Join(base, d.Path)
		}
		if d.Name == "" {
			d.Name = TableNameForPath(d.Path)
		}
	}

	return &m, nil
}

// LoadManifest loads every dataset in a manifest into the frame.
func (f *Frame) LoadManifest(ctx context.Context, m *Manifest) error {
	for _, d := range m.Datasets {
		if err := f.Load(ctx, d.Path, d.Name); err != nil {
			return fmt.Errorf("dataset %s: %w", d.Name, err)
		}
	}
	return nil
}
