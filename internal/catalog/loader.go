package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader defines an interface for loading a catalog File from a source
// (e.g., file, bytes, etc.).
type Loader interface {
	Load(source string) (*File, error)
	Format() string // e.g., "yaml", "json"
}

// loaderRegistry holds registered Loaders by format name.
var loaderRegistry = make(map[string]Loader)

// RegisterLoader registers a new Loader for a given format.
func RegisterLoader(loader Loader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name (e.g., "yaml").
func GetLoader(format string) (Loader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements Loader for YAML catalog files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	var file File
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return &file, nil
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterLoader(YAMLLoader{})
}

// loadFile loads a catalog file using the default YAML loader.
func loadFile(path string) (*File, error) {
	loader, ok := GetLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML catalog loader registered")
	}
	return loader.Load(path)
}
