// Package catalog provides the priced tool registry backing plan
// validation, costing, and prompt digests.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/shopspring/decimal"
)

// Catalog is an in-memory, read-mostly registry of tools keyed by the
// (service, name) composite. Lookups take a read lock; Reload swaps the
// whole table under a write lock.
type Catalog struct {
	mu    sync.RWMutex
	path  string
	tools map[string]tollgate.Tool
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tools: make(map[string]tollgate.Tool)}
}

// Register adds a tool to the catalog. Registering a (service, name) pair
// twice is an error.
func (c *Catalog) Register(tool tollgate.Tool) error {
	if tool.Service == "" || tool.Name == "" {
		return fmt.Errorf("tool must carry both service and name (got '%s::%s')", tool.Service, tool.Name)
	}
	if tool.Price.IsNegative() {
		return fmt.Errorf("tool '%s' has negative price %s", tool.Key(), tool.Price.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tool.Key()
	if _, exists := c.tools[key]; exists {
		return fmt.Errorf("tool '%s' is already registered", key)
	}
	c.tools[key] = tool
	return nil
}

// Lookup returns the tool registered under (service, name).
func (c *Catalog) Lookup(service, name string) (tollgate.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool, ok := c.tools[service+"::"+name]
	return tool, ok
}

// Tools returns every registered tool in stable (service, name) order, so
// prompt digests and cache keys derived from the listing are deterministic.
func (c *Catalog) Tools() []tollgate.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.tools))
	for key := range c.tools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	tools := make([]tollgate.Tool, 0, len(keys))
	for _, key := range keys {
		tools = append(tools, c.tools[key])
	}
	return tools
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Reload re-reads the backing file and atomically replaces the registry.
// It is a no-op error for catalogs built programmatically.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return fmt.Errorf("catalog was not loaded from a file")
	}
	file, err := loadFile(c.path)
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}
	tools, err := file.toTools()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// File is the on-disk catalog document.
type File struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Tools       []Entry `yaml:"tools"`
}

// Entry describes one priced tool in a catalog file. Price is kept as a
// string in YAML and parsed as an exact decimal, never a float.
type Entry struct {
	Service     string            `yaml:"service"`
	Name        string            `yaml:"name"`
	Endpoint    string            `yaml:"endpoint"`
	Price       string            `yaml:"price"`
	Description string            `yaml:"description"`
	Params      map[string]string `yaml:"params"`
}

// Validate checks the catalog file for empty identities, duplicate
// (service, name) pairs, and malformed or negative prices.
func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Tools))
	for i, e := range f.Tools {
		if e.Service == "" || e.Name == "" {
			return fmt.Errorf("catalog entry %d must carry both service and name", i)
		}
		key := e.Service + "::" + e.Name
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate catalog entry: %s", key)
		}
		seen[key] = struct{}{}
		if e.Endpoint == "" {
			return fmt.Errorf("catalog entry '%s' is missing an endpoint", key)
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return fmt.Errorf("catalog entry '%s' has unparseable price '%s': %w", key, e.Price, err)
		}
		if price.IsNegative() {
			return fmt.Errorf("catalog entry '%s' has negative price %s", key, e.Price)
		}
	}
	return nil
}

// toTools converts the validated file entries into the lookup table.
func (f *File) toTools() (map[string]tollgate.Tool, error) {
	tools := make(map[string]tollgate.Tool, len(f.Tools))
	for _, e := range f.Tools {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, fmt.Errorf("unparseable price for '%s::%s': %w", e.Service, e.Name, err)
		}
		tool := tollgate.Tool{
			Service:     e.Service,
			Name:        e.Name,
			Endpoint:    e.Endpoint,
			Price:       price,
			Description: e.Description,
			InputSchema: e.Params,
		}
		tools[tool.Key()] = tool
	}
	return tools, nil
}

// Load parses, validates, and indexes a catalog file using the loader
// registered for its format.
func Load(path string) (*Catalog, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	tools, err := file.toTools()
	if err != nil {
		return nil, err
	}
	return &Catalog{path: path, tools: tools}, nil
}
