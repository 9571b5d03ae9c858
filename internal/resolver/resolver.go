// Package resolver decides which installers a selector needs and where their
// URLs come from. It performs no I/O.
package resolver

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"cimatrix/internal/catalog"
	"cimatrix/internal/config"
)

// Binding is a required installer bound to the URL and destination this job
// will use.
type Binding struct {
	Installer catalog.Installer
	URL       string
	Dest      string
}

// Outcome is the resolution for one selector: installers to fetch and
// installers to skip. Every catalog installer appears in exactly one of them.
type Outcome struct {
	Selector string
	Fetch    []Binding
	Skip     []catalog.Installer
}

// FetchNames returns the installer names marked for fetching, in order.
func (o *Outcome) FetchNames() []string {
	out := make([]string, 0, len(o.Fetch))
	for _, b := range o.Fetch {
		out = append(out, b.Installer.Name)
	}
	return out
}

// Problem describes one required installer that cannot be fetched.
type Problem struct {
	Installer string
	Env       string
	Reason    string
}

// ConfigError reports required installers without a usable URL. It is raised
// before any network call.
type ConfigError struct {
	Selector string
	Problems []Problem
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msg := fmt.Sprintf("installer %q %s", p.Installer, p.Reason)
		if p.Env != "" {
			msg += fmt.Sprintf(" (set %s)", p.Env)
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("selector %q: %s", e.Selector, strings.Join(parts, "; "))
}

// Installers returns the names of the installers at fault.
func (e *ConfigError) Installers() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Installer)
	}
	return out
}

// Resolve computes the Outcome for selector. Unknown selectors return a
// *catalog.UnmappedSelectorError; required installers without a URL return a
// *ConfigError naming all of them.
func Resolve(c *catalog.Catalog, selector string, env config.Env, artifactDir string) (*Outcome, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve: nil catalog")
	}
	required, err := c.Required(selector)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Selector: selector}
	needed := make(map[string]struct{}, len(required))
	var problems []Problem
	for _, inst := range required {
		needed[inst.Name] = struct{}{}
		u, p := installerURL(inst, env)
		if p != nil {
			problems = append(problems, *p)
			continue
		}
		out.Fetch = append(out.Fetch, Binding{
			Installer: inst,
			URL:       u,
			Dest:      Destination(inst, artifactDir),
		})
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Selector: selector, Problems: problems}
	}

	for _, inst := range c.Installers {
		if _, ok := needed[inst.Name]; !ok {
			out.Skip = append(out.Skip, inst)
		}
	}
	return out, nil
}

// Destination returns where the installer is written. Relative catalog paths
// are placed under artifactDir.
func Destination(inst catalog.Installer, artifactDir string) string {
	if filepath.IsAbs(inst.Path) || artifactDir == "" {
		return filepath.Clean(inst.Path)
	}
	return filepath.Join(artifactDir, inst.Path)
}

func installerURL(inst catalog.Installer, env config.Env) (string, *Problem) {
	raw := inst.URL
	if inst.URLEnv != "" {
		if v := env.Get(inst.URLEnv); v != "" {
			raw = v
		}
	}
	if raw == "" {
		return "", &Problem{Installer: inst.Name, Env: inst.URLEnv, Reason: "has no URL configured"}
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		// Never echo the value: installer URLs are secrets.
		return "", &Problem{Installer: inst.Name, Env: inst.URLEnv, Reason: "has a malformed URL (expected http or https)"}
	}
	return raw, nil
}
