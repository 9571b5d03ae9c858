package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Installer is a named installer artifact. Its URL is either static (URL) or
// supplied per run through an environment variable (URLEnv). When both are set,
// a non-empty URLEnv value wins.
type Installer struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url,omitempty"`
	URLEnv string `yaml:"url_env,omitempty"`
	// Path is the download destination. Relative paths are resolved against the
	// artifact directory at resolution time.
	Path string `yaml:"path"`
}

// Pattern maps one test selector to the installers its tests depend on.
type Pattern struct {
	Selector   string   `yaml:"selector"`
	Installers []string `yaml:"installers,omitempty"`
}

// Catalog is the static set of selectors the CI matrix fans out over, together
// with the installer each selector requires.
type Catalog struct {
	Installers []Installer `yaml:"installers"`
	Patterns   []Pattern   `yaml:"patterns"`

	// FallbackCommands run in order when a job has no selector (the matrix
	// entry that runs linters instead of tests).
	FallbackCommands [][]string `yaml:"fallback_commands,omitempty"`

	installers map[string]Installer
	patterns   map[string][]string
}

// UnmappedSelectorError reports a selector that has no entry in the catalog.
type UnmappedSelectorError struct {
	Selector string
}

func (e *UnmappedSelectorError) Error() string {
	return fmt.Sprintf("selector %q is not in the pattern catalog; add it with its required installers (an empty list if it needs none)", e.Selector)
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	c, err := Parse(bytes.NewReader(defaultCatalog))
	if err != nil {
		return nil, fmt.Errorf("default catalog: %w", err)
	}
	return c, nil
}

// Load reads and validates a catalog file. An empty path yields the default
// catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse decodes a YAML catalog and validates it. Unknown fields are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog's internal consistency and builds its lookup
// tables. It must succeed before Required or Expand are used.
func (c *Catalog) Validate() error {
	if c == nil {
		return errors.New("catalog is nil")
	}

	installers := make(map[string]Installer, len(c.Installers))
	paths := make(map[string]string, len(c.Installers))
	for i, inst := range c.Installers {
		inst.Name = strings.TrimSpace(inst.Name)
		inst.URL = strings.TrimSpace(inst.URL)
		inst.URLEnv = strings.TrimSpace(inst.URLEnv)
		inst.Path = strings.TrimSpace(inst.Path)
		c.Installers[i] = inst

		if inst.Name == "" {
			return fmt.Errorf("installer #%d: name is required", i+1)
		}
		if _, dup := installers[inst.Name]; dup {
			return fmt.Errorf("installer %q is declared more than once", inst.Name)
		}
		if inst.URL == "" && inst.URLEnv == "" {
			return fmt.Errorf("installer %q: one of url or url_env is required", inst.Name)
		}
		if inst.Path == "" {
			return fmt.Errorf("installer %q: path is required", inst.Name)
		}
		clean := filepath.Clean(inst.Path)
		if other, dup := paths[clean]; dup {
			return fmt.Errorf("installers %q and %q share the destination %s", other, inst.Name, inst.Path)
		}
		paths[clean] = inst.Name
		installers[inst.Name] = inst
	}

	patterns := make(map[string][]string, len(c.Patterns))
	for i, p := range c.Patterns {
		if strings.TrimSpace(p.Selector) == "" {
			return fmt.Errorf("pattern #%d: selector is required", i+1)
		}
		if p.Selector != strings.TrimSpace(p.Selector) {
			return fmt.Errorf("pattern %q: selector has surrounding whitespace", p.Selector)
		}
		if _, dup := patterns[p.Selector]; dup {
			return fmt.Errorf("pattern %q is declared more than once", p.Selector)
		}
		seen := make(map[string]struct{}, len(p.Installers))
		names := make([]string, 0, len(p.Installers))
		for _, name := range p.Installers {
			name = strings.TrimSpace(name)
			if _, ok := installers[name]; !ok {
				return fmt.Errorf("pattern %q requires unknown installer %q", p.Selector, name)
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
		patterns[p.Selector] = names
	}

	for i, cmd := range c.FallbackCommands {
		if len(cmd) == 0 || strings.TrimSpace(cmd[0]) == "" {
			return fmt.Errorf("fallback command #%d is empty", i+1)
		}
	}

	c.installers = installers
	c.patterns = patterns
	return nil
}

// Expand returns every selector in the catalog, sorted.
func (c *Catalog) Expand() []string {
	out := make([]string, 0, len(c.patterns))
	for sel := range c.patterns {
		out = append(out, sel)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the selector is in the catalog.
func (c *Catalog) Has(selector string) bool {
	_, ok := c.patterns[selector]
	return ok
}

// Required returns the installers the selector depends on, in the order the
// pattern lists them. The result is empty (not nil error) for selectors that
// need no installer.
func (c *Catalog) Required(selector string) ([]Installer, error) {
	names, ok := c.patterns[selector]
	if !ok {
		return nil, &UnmappedSelectorError{Selector: selector}
	}
	out := make([]Installer, 0, len(names))
	for _, name := range names {
		out = append(out, c.installers[name])
	}
	return out, nil
}

// Installer looks up an installer by name.
func (c *Catalog) Installer(name string) (Installer, bool) {
	inst, ok := c.installers[name]
	return inst, ok
}

// Dependents returns the sorted selectors that require the named installer.
func (c *Catalog) Dependents(name string) []string {
	var out []string
	for sel, names := range c.patterns {
		for _, n := range names {
			if n == name {
				out = append(out, sel)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Unused returns installers that no selector depends on, in declaration order.
// They can never be downloaded by any matrix job.
func (c *Catalog) Unused() []string {
	used := make(map[string]struct{})
	for _, names := range c.patterns {
		for _, n := range names {
			used[n] = struct{}{}
		}
	}
	var out []string
	for _, inst := range c.Installers {
		if _, ok := used[inst.Name]; !ok {
			out = append(out, inst.Name)
		}
	}
	return out
}
