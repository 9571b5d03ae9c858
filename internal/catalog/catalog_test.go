package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleCatalog = `
installers:
  - name: EE 1.13
    url_env: EE_1_13_ARTIFACT_URL
    path: ee_1_13.sh
  - name: EE 2.0
    url_env: EE_2_0_ARTIFACT_URL
    path: ee_2_0.sh
  - name: OSS master
    url: https://example.test/oss.sh
    path: oss.sh
patterns:
  - selector: tests/test_legacy.py::Test113::test_enterprise
    installers: [EE 1.13]
  - selector: tests/test_legacy.py::Test20::test_enterprise
    installers: [EE 2.0, EE 2.0]
  - selector: tests/test_both.py
    installers: [OSS master, EE 1.13]
  - selector: tests/test_cli
`

func mustParse(t *testing.T, raw string) *Catalog {
	t.Helper()
	c, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}
	return c
}

func installerNames(in []Installer) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, i.Name)
	}
	return out
}

func TestRequired_IsTotalOverExpand(t *testing.T) {
	c := mustParse(t, sampleCatalog)

	for _, sel := range c.Expand() {
		if _, err := c.Required(sel); err != nil {
			t.Fatalf("Required(%q) returned error: %v", sel, err)
		}
	}
}

func TestRequired_PreservesOrderAndDedupes(t *testing.T) {
	c := mustParse(t, sampleCatalog)

	got, err := c.Required("tests/test_both.py")
	if err != nil {
		t.Fatalf("Required returned error: %v", err)
	}
	if want := []string{"OSS master", "EE 1.13"}; !reflect.DeepEqual(installerNames(got), want) {
		t.Fatalf("Required mismatch: got %v want %v", installerNames(got), want)
	}

	got, err = c.Required("tests/test_legacy.py::Test20::test_enterprise")
	if err != nil {
		t.Fatalf("Required returned error: %v", err)
	}
	if want := []string{"EE 2.0"}; !reflect.DeepEqual(installerNames(got), want) {
		t.Fatalf("expected duplicate installer to collapse: got %v", installerNames(got))
	}
}

func TestRequired_EmptyForSelectorWithoutInstallers(t *testing.T) {
	c := mustParse(t, sampleCatalog)

	got, err := c.Required("tests/test_cli")
	if err != nil {
		t.Fatalf("Required returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no installers, got %v", installerNames(got))
	}
}

func TestRequired_UnmappedSelector(t *testing.T) {
	c := mustParse(t, sampleCatalog)

	tests := []string{
		"tests/test_unknown.py",
		"tests/test_cli/", // exact match only, no prefix semantics
		"tests/test_legacy.py::Test113",
		"",
	}
	for _, sel := range tests {
		_, err := c.Required(sel)
		var unmapped *UnmappedSelectorError
		if !errors.As(err, &unmapped) {
			t.Fatalf("Required(%q): expected UnmappedSelectorError, got %v", sel, err)
		}
		if unmapped.Selector != sel {
			t.Fatalf("error selector mismatch: got %q want %q", unmapped.Selector, sel)
		}
	}
}

func TestExpand_SortedAndComplete(t *testing.T) {
	c := mustParse(t, sampleCatalog)

	want := []string{
		"tests/test_both.py",
		"tests/test_cli",
		"tests/test_legacy.py::Test113::test_enterprise",
		"tests/test_legacy.py::Test20::test_enterprise",
	}
	if got := c.Expand(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand mismatch: got %v want %v", got, want)
	}
}

func TestDependentsAndUnused(t *testing.T) {
	raw := sampleCatalog + `
fallback_commands:
  - [make, lint]
`
	raw = strings.Replace(raw, "patterns:", `  - name: EE 2.1
    url_env: EE_2_1_ARTIFACT_URL
    path: ee_2_1.sh
patterns:`, 1)
	c := mustParse(t, raw)

	want := []string{"tests/test_both.py", "tests/test_legacy.py::Test113::test_enterprise"}
	if got := c.Dependents("EE 1.13"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Dependents mismatch: got %v want %v", got, want)
	}
	if got := c.Unused(); !reflect.DeepEqual(got, []string{"EE 2.1"}) {
		t.Fatalf("Unused mismatch: got %v", got)
	}
	if len(c.FallbackCommands) != 1 || c.FallbackCommands[0][0] != "make" {
		t.Fatalf("unexpected fallback commands: %v", c.FallbackCommands)
	}
}

func TestParse_RejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty",
			raw:  "",
			want: "empty",
		},
		{
			name: "unknown_field",
			raw:  "installers: []\npatterns: []\nextra: true\n",
			want: "extra",
		},
		{
			name: "duplicate_selector",
			raw:  "patterns:\n  - selector: a\n  - selector: a\n",
			want: "more than once",
		},
		{
			name: "unknown_installer",
			raw:  "patterns:\n  - selector: a\n    installers: [EE 9]\n",
			want: `unknown installer "EE 9"`,
		},
		{
			name: "installer_without_url",
			raw:  "installers:\n  - name: EE\n    path: ee.sh\n",
			want: "url or url_env",
		},
		{
			name: "installer_without_path",
			raw:  "installers:\n  - name: EE\n    url_env: EE_URL\n",
			want: "path is required",
		},
		{
			name: "shared_destination",
			raw:  "installers:\n  - name: A\n    url: http://a\n    path: x.sh\n  - name: B\n    url: http://b\n    path: ./x.sh\n",
			want: "share the destination",
		},
		{
			name: "blank_selector",
			raw:  "patterns:\n  - selector: '  '\n",
			want: "selector is required",
		},
		{
			name: "padded_selector",
			raw:  "patterns:\n  - selector: ' tests/x.py'\n",
			want: "whitespace",
		},
		{
			name: "empty_fallback",
			raw:  "patterns: []\nfallback_commands:\n  - []\n",
			want: "fallback command #1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefault_IsValidAndCoversEveryInstaller(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() returned error: %v", err)
	}
	if len(c.Expand()) == 0 {
		t.Fatalf("expected default catalog to list selectors")
	}
	if unused := c.Unused(); len(unused) != 0 {
		t.Fatalf("default catalog declares installers no selector needs: %v", unused)
	}
	if len(c.FallbackCommands) == 0 {
		t.Fatalf("expected default fallback commands")
	}

	req, err := c.Required("tests/test_dcos_e2e/test_legacy.py::Test113::test_enterprise")
	if err != nil {
		t.Fatalf("Required returned error: %v", err)
	}
	if len(req) != 1 || req[0].Name != "EE 1.13" || req[0].URLEnv != "EE_1_13_ARTIFACT_URL" {
		t.Fatalf("unexpected legacy requirement: %+v", req)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !c.Has("tests/test_cli") {
		t.Fatalf("expected loaded catalog to contain tests/test_cli")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	def, err := Load("  ")
	if err != nil {
		t.Fatalf("Load(blank) returned error: %v", err)
	}
	if !def.Has("tests/test_cli") {
		t.Fatalf("expected blank path to load the default catalog")
	}
}
