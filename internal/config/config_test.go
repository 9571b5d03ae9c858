package config

import (
	"reflect"
	"testing"
	"time"
)

func TestNew_DefaultsValidate(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.Fetch.Timeout != 30*time.Minute {
		t.Fatalf("unexpected default fetch timeout: %v", cfg.Fetch.Timeout)
	}
	if cfg.Runner.Framework != "pytest" {
		t.Fatalf("unexpected default framework: %q", cfg.Runner.Framework)
	}
}

func TestValidate_NormalizesCommaDelimitedCoverage(t *testing.T) {
	cfg := New()
	cfg.Runner.Coverage = []string{"src/a, src/b", "tests", ",,"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}

	want := []string{"src/a", "src/b", "tests"}
	if !reflect.DeepEqual(cfg.Runner.Coverage, want) {
		t.Fatalf("Coverage normalized mismatch: got %v want %v", cfg.Runner.Coverage, want)
	}
}

func TestValidate_NormalizesEmptyPatternMarkers(t *testing.T) {
	for _, raw := range []string{"", "  ", "''", `""`, " '' "} {
		cfg := New()
		cfg.Job.Pattern = raw
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() returned error for %q: %v", raw, err)
		}
		if cfg.Job.Pattern != "" {
			t.Fatalf("expected %q to normalize to empty, got %q", raw, cfg.Job.Pattern)
		}
	}

	cfg := New()
	cfg.Job.Pattern = " tests/test_cli "
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.Job.Pattern != " tests/test_cli " {
		t.Fatalf("expected the selector to be kept verbatim, got %q", cfg.Job.Pattern)
	}
}

func TestValidate_RejectsInvalidConsoleFormat(t *testing.T) {
	tests := []struct {
		name          string
		consoleFormat string
	}{
		{name: "empty", consoleFormat: ""},
		{name: "spaces", consoleFormat: "   "},
		{name: "unknown", consoleFormat: "yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.Output.ConsoleFormat = tt.consoleFormat
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestValidate_InfersOutFormat(t *testing.T) {
	tests := []struct {
		out     string
		want    string
		wantErr bool
	}{
		{out: "job.json", want: "json"},
		{out: "job.ndjson", want: "ndjson"},
		{out: "job.jsonl", want: "ndjson"},
		{out: "job", wantErr: true},
		{out: "job.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			cfg := New()
			cfg.Output.Out = tt.out
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if cfg.Output.OutFormat != tt.want {
				t.Fatalf("expected out format %q, got %q", tt.want, cfg.Output.OutFormat)
			}
		})
	}
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name      string
		mutateCfg func(cfg *Config)
	}{
		{name: "zero_fetch_timeout", mutateCfg: func(cfg *Config) { cfg.Fetch.Timeout = 0 }},
		{name: "zero_concurrency", mutateCfg: func(cfg *Config) { cfg.Fetch.Concurrency = 0 }},
		{name: "blank_artifact_dir", mutateCfg: func(cfg *Config) { cfg.Fetch.ArtifactDir = " " }},
		{name: "blank_framework", mutateCfg: func(cfg *Config) { cfg.Runner.Framework = "" }},
		{name: "negative_timeout", mutateCfg: func(cfg *Config) { cfg.Runtime.Timeout = -1 }},
		{name: "unknown_log_level", mutateCfg: func(cfg *Config) { cfg.Runtime.LogLevel = "trace" }},
		{name: "bad_out_format", mutateCfg: func(cfg *Config) {
			cfg.Output.Out = "x.json"
			cfg.Output.OutFormat = "yaml"
		}},
		{name: "repo_without_slash", mutateCfg: func(cfg *Config) { cfg.Lint.Repo = "dcos-e2e" }},
		{name: "repo_too_deep", mutateCfg: func(cfg *Config) { cfg.Lint.Repo = "a/b/c" }},
		{name: "ref_without_repo", mutateCfg: func(cfg *Config) { cfg.Lint.Ref = "main" }},
		{name: "blank_matrix_key", mutateCfg: func(cfg *Config) { cfg.Lint.MatrixKey = " " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutateCfg(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestValidate_VerboseForcesDebug(t *testing.T) {
	cfg := New()
	cfg.Runtime.LogLevel = " WARN "
	cfg.Runtime.Verbose = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.Runtime.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.Runtime.LogLevel)
	}
}

func TestEnv(t *testing.T) {
	env := EnvFromList([]string{
		"EE_2_0_ARTIFACT_URL=",
		"EE_1_13_ARTIFACT_URL= https://example.test/ee.sh ",
		"WITH_EQUALS=a=b",
		"NOEQUALS",
		"=orphan",
	})

	if got := env.Get("EE_1_13_ARTIFACT_URL"); got != "https://example.test/ee.sh" {
		t.Fatalf("unexpected value: %q", got)
	}
	if got := env.Get("EE_2_0_ARTIFACT_URL"); got != "" {
		t.Fatalf("expected blank value, got %q", got)
	}
	if got := env.Get("WITH_EQUALS"); got != "a=b" {
		t.Fatalf("expected value to keep '=', got %q", got)
	}
	if _, ok := env["NOEQUALS"]; ok {
		t.Fatalf("expected malformed entry to be skipped")
	}

	var nilEnv Env
	if nilEnv.Get("X") != "" {
		t.Fatalf("expected nil Env to return empty")
	}

	t.Setenv("CIMATRIX_TEST_ENV", "value")
	if EnvFromOS().Get("CIMATRIX_TEST_ENV") != "value" {
		t.Fatalf("expected EnvFromOS to capture the process environment")
	}
}
