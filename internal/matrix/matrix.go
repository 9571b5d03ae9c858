// Package matrix reads the selector matrix out of CI configuration files and
// checks it against the pattern catalog.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one selector listed in a CI matrix.
type Entry struct {
	Job      string
	Selector string
	// Line is the 1-based line of the entry in the source file.
	Line int
}

// Job is a CI job that fans out over the matrix key.
type Job struct {
	Name string
	// FailFast is nil when the job does not set strategy.fail-fast.
	FailFast *bool
	Line     int
}

// Matrix is the set of selectors a CI file fans out over.
type Matrix struct {
	// Format is "github" or "travis".
	Format  string
	Jobs    []Job
	Entries []Entry
}

// Selectors returns the entries' selectors in file order.
func (m *Matrix) Selectors() []string {
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.Selector)
	}
	return out
}

type workflowFile struct {
	Jobs map[string]struct {
		Strategy *struct {
			FailFast *bool                `yaml:"fail-fast"`
			Matrix   map[string]yaml.Node `yaml:"matrix"`
		} `yaml:"strategy"`
	} `yaml:"jobs"`

	// Travis CI keeps the matrix under env.matrix (or env.jobs) as NAME=value
	// strings.
	Env *struct {
		Matrix yaml.Node `yaml:"matrix"`
		Jobs   yaml.Node `yaml:"jobs"`
	} `yaml:"env"`
}

// Parse extracts the matrix key from a GitHub Actions workflow or a
// .travis.yml. For travis files the key is matched case-insensitively against
// the variable name, so "ci_pattern" finds CI_PATTERN=... entries.
//
// The empty-string entry and the literal '' both denote the "no tests" job and
// are returned as "".
func Parse(data []byte, key string) (*Matrix, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("matrix key must not be empty")
	}
	var wf workflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse CI file: %w", err)
	}

	if len(wf.Jobs) > 0 {
		return parseGitHub(wf, key)
	}
	if wf.Env != nil {
		return parseTravis(wf, key)
	}
	return nil, errors.New("no jobs (GitHub Actions) or env matrix (Travis CI) found")
}

func parseGitHub(wf workflowFile, key string) (*Matrix, error) {
	m := &Matrix{Format: "github"}
	names := make([]string, 0, len(wf.Jobs))
	for name := range wf.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		j := wf.Jobs[name]
		if j.Strategy == nil {
			continue
		}
		node, listed := j.Strategy.Matrix[key]
		included, err := includeEntries(j.Strategy.Matrix["include"], name, key)
		if err != nil {
			return nil, err
		}
		if !listed && len(included) == 0 {
			continue
		}

		line := j.Strategy.Matrix["include"].Line
		base := make(map[string]bool)
		if listed {
			if node.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("jobs.%s.strategy.matrix.%s (line %d): expected a list of selectors", name, key, node.Line)
			}
			line = node.Line
			for _, item := range node.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("jobs.%s.strategy.matrix.%s (line %d): expected a string", name, key, item.Line)
				}
				sel := normalizeSelector(item.Value)
				base[sel] = true
				m.Entries = append(m.Entries, Entry{Job: name, Selector: sel, Line: item.Line})
			}
		}
		// An include entry whose selector is already listed only adds
		// variables to that combination; it does not start another job.
		for _, item := range included {
			sel := normalizeSelector(item.Value)
			if base[sel] {
				continue
			}
			m.Entries = append(m.Entries, Entry{Job: name, Selector: sel, Line: item.Line})
		}
		m.Jobs = append(m.Jobs, Job{Name: name, FailFast: j.Strategy.FailFast, Line: line})
	}
	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("no job has strategy.matrix.%s", key)
	}
	return m, nil
}

// includeEntries returns the key's value nodes from strategy.matrix.include.
func includeEntries(include yaml.Node, job, key string) ([]*yaml.Node, error) {
	if include.Kind != yaml.SequenceNode {
		return nil, nil
	}
	var out []*yaml.Node
	for _, item := range include.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i], item.Content[i+1]
			if k.Value != key {
				continue
			}
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("jobs.%s.strategy.matrix.include (line %d): expected %s to be a string", job, v.Line, key)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func parseTravis(wf workflowFile, key string) (*Matrix, error) {
	node := wf.Env.Matrix
	if node.Kind == 0 {
		node = wf.Env.Jobs
	}
	if node.Kind != yaml.SequenceNode {
		return nil, errors.New("env.matrix: expected a list of NAME=value entries")
	}

	m := &Matrix{Format: "travis", Jobs: []Job{{Name: "env.matrix", Line: node.Line}}}
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("env.matrix (line %d): expected a NAME=value string", item.Line)
		}
		name, value, ok := strings.Cut(item.Value, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), key) {
			return nil, fmt.Errorf("env.matrix (line %d): expected %s=<selector>, got %q", item.Line, strings.ToUpper(key), item.Value)
		}
		m.Entries = append(m.Entries, Entry{Job: "env.matrix", Selector: normalizeSelector(value), Line: item.Line})
	}
	return m, nil
}

func normalizeSelector(raw string) string {
	switch strings.TrimSpace(raw) {
	case "", "''", `""`:
		return ""
	}
	return raw
}

// FileFetcher reads a file from a remote repository at a ref.
type FileFetcher interface {
	FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, error)
}

// Read returns the CI file at path, from the local filesystem when repo is
// empty and otherwise from repo (OWNER/REPO) at ref through remote.
func Read(ctx context.Context, path string, remote FileFetcher, repo, ref string) ([]byte, error) {
	if repo == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CI file: %w", err)
		}
		return data, nil
	}
	if remote == nil {
		return nil, errors.New("reading from a repository needs a GitHub client")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("invalid repository %q: expected OWNER/REPO", repo)
	}
	data, err := remote.FetchFile(ctx, owner, name, ref, path)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", path, repo, err)
	}
	return data, nil
}
