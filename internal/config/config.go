package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cimatrix/internal/flags"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep the CLI flags
	// in internal/cli in sync and name the flag in validation errors.
	Job     Job
	Fetch   Fetch
	Runner  Runner
	Lint    Lint
	Output  Output
	Runtime Runtime
}

type Job struct {
	// Pattern is the active matrix entry's test selector (see --pattern).
	// When the flag is omitted it is taken from CI_PATTERN. Empty means the job
	// runs the catalog's fallback commands instead of tests.
	Pattern string

	// Catalog is the path of the pattern catalog YAML (see --catalog).
	// Empty selects the catalog compiled into the binary.
	Catalog string
}

type Fetch struct {
	// ArtifactDir is the base directory for relative installer paths (see --artifact-dir).
	ArtifactDir string

	// Timeout bounds each installer download (see --fetch-timeout). Must be > 0.
	Timeout time.Duration

	// Concurrency limits simultaneous downloads within one job (see --concurrency).
	// Must be >= 1.
	Concurrency int

	// NoCache forces a download even when the destination already holds the
	// artifact from the same URL (see --no-cache).
	NoCache bool
}

type Runner struct {
	// Framework is the test framework executable (see --framework).
	Framework string

	// Coverage lists --cov targets passed to the framework (see --cov).
	// Values may be provided as repeated flags and/or comma-separated lists.
	Coverage []string

	// Workdir is the directory tests run in (see --workdir). Empty means the
	// current directory.
	Workdir string
}

type Lint struct {
	// Workflow is the CI workflow file to lint (see --workflow).
	Workflow string

	// MatrixKey is the matrix variable holding selectors (see --matrix-key).
	MatrixKey string

	// Repo reads the workflow from GitHub as OWNER/REPO instead of the local
	// filesystem (see --repo).
	Repo string

	// Ref is the git ref used with Repo (see --ref). Empty means the default branch.
	Ref string

	// Collect additionally checks that every selector collects at least one test
	// (see --collect).
	Collect bool
}

type Output struct {
	// ConsoleFormat controls the console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string

	// Out writes structured output to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool

	// Summary appends a Markdown summary to this path (see --summary).
	// When the flag is omitted it is taken from GITHUB_STEP_SUMMARY.
	Summary string
}

type Runtime struct {
	// LogLevel is the slog level for diagnostics on stderr (see --log-level).
	// Allowed values: debug, info, warn, error.
	LogLevel string

	// Verbose logs every HTTP request and forces debug logging (see --verbose).
	Verbose bool

	// Timeout bounds the whole job (see --timeout). 0 means no limit.
	Timeout time.Duration
}

func New() *Config {
	return &Config{
		Fetch: Fetch{
			ArtifactDir: "/tmp",
			Timeout:     30 * time.Minute,
			Concurrency: 4,
		},
		Runner: Runner{
			Framework: "pytest",
			Coverage:  []string{"src/dcos_e2e", "tests"},
		},
		Lint: Lint{
			Workflow:  ".github/workflows/ci.yml",
			MatrixKey: "ci_pattern",
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			LogLevel: "info",
		},
	}
}

func (c *Config) Validate() error {
	c.Runner.Coverage = splitCommaList(c.Runner.Coverage)
	// The matrix entry for "no tests" is written as '' in some CI files. Any
	// other selector reaches the framework byte for byte.
	switch strings.TrimSpace(c.Job.Pattern) {
	case "", "''", `""`:
		c.Job.Pattern = ""
	}

	// Fetch validation
	c.Fetch.ArtifactDir = strings.TrimSpace(c.Fetch.ArtifactDir)
	if c.Fetch.ArtifactDir == "" {
		return fmt.Errorf("--%s must not be empty", flags.FlagArtifactDir)
	}
	c.Fetch.ArtifactDir = filepath.Clean(c.Fetch.ArtifactDir)
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("--%s must be > 0", flags.FlagFetchTimeout)
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("--%s must be >= 1", flags.FlagConcurrency)
	}

	// Runner validation
	c.Runner.Framework = strings.TrimSpace(c.Runner.Framework)
	if c.Runner.Framework == "" {
		return fmt.Errorf("--%s must not be empty", flags.FlagFramework)
	}

	// Lint validation
	c.Lint.MatrixKey = strings.TrimSpace(c.Lint.MatrixKey)
	if c.Lint.MatrixKey == "" {
		return fmt.Errorf("--%s must not be empty", flags.FlagMatrixKey)
	}
	c.Lint.Repo = strings.TrimSpace(c.Lint.Repo)
	if c.Lint.Repo != "" {
		owner, name, ok := strings.Cut(c.Lint.Repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("invalid --%s value %q: expected OWNER/REPO", flags.FlagRepo, c.Lint.Repo)
		}
	}
	if c.Lint.Ref != "" && c.Lint.Repo == "" {
		return fmt.Errorf("--%s requires --%s", flags.FlagRef, flags.FlagRepo)
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return fmt.Errorf("--%s must be one of: text, json, ndjson", flags.FlagConsoleFormat)
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --%s: %s (must be one of: text, json, ndjson)", flags.FlagConsoleFormat, c.Output.ConsoleFormat)
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return fmt.Errorf("cannot infer output format from file extension (missing extension); use --%s", flags.FlagOutFormat)
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --%s", ext, flags.FlagOutFormat)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Runtime validation
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	if c.Runtime.LogLevel == "" {
		c.Runtime.LogLevel = "info"
	}
	switch c.Runtime.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported --%s: %s (must be one of: debug, info, warn, error)", flags.FlagLogLevel, c.Runtime.LogLevel)
	}
	if c.Runtime.Verbose {
		c.Runtime.LogLevel = "debug"
	}
	if c.Runtime.Timeout < 0 {
		return errors.New("--" + flags.FlagTimeout + " must be >= 0")
	}

	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
