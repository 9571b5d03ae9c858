package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestConsoleSink_Text(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "job started",
			event: Event{Type: EventJobStarted, Selector: "tests/test_enterprise.py", Fetch: 2, Skip: 6},
			want:  "==> tests/test_enterprise.py: fetching 2 installer(s), skipping 6",
		},
		{
			name:  "job started without selector",
			event: Event{Type: EventJobStarted},
			want:  "==> (no selector)",
		},
		{
			name:  "skipped installer",
			event: Event{Type: EventInstallerSkipped, Installer: "EE 2.0"},
			want:  "    skip   EE 2.0",
		},
		{
			name:  "fetched installer",
			event: Event{Type: EventInstallerFetched, Installer: "EE master", Dest: "/tmp/ee.sh", Bytes: 10, DurationMS: 1500},
			want:  "    fetch  EE master -> /tmp/ee.sh (10 bytes, 1.5s)",
		},
		{
			name:  "cached installer",
			event: Event{Type: EventInstallerFetched, Installer: "EE master", Dest: "/tmp/ee.sh", Cached: true},
			want:  "    fetch  EE master -> /tmp/ee.sh (cached)",
		},
		{
			name:  "tests failed",
			event: Event{Type: EventTestsFinished, Selector: "tests/test_cli", Status: "FAIL", ExitCode: 1, DurationMS: 2000},
			want:  "[FAIL] tests/test_cli (exit 1, 2s)",
		},
		{
			name:  "command",
			event: Event{Type: EventCommandFinished, Command: []string{"make", "lint"}, Status: "PASS"},
			want:  "[PASS] make lint (exit 0)",
		},
		{
			name:  "job finished with message",
			event: Event{Type: EventJobFinished, Selector: "tests/x", Status: "ERROR", ExitCode: 78, Message: "missing URL"},
			want:  "[ERROR] job tests/x: exit 78 - missing URL",
		},
		{
			name:  "job finished without selector",
			event: Event{Type: EventJobFinished, Status: "PASS"},
			want:  "[PASS] job (no selector): exit 0",
		},
		{
			name:  "lint issue",
			event: Event{Type: EventLintIssue, Check: "missing-selector", Message: "tests/test_oss.py is not in the matrix"},
			want:  "[FAIL] missing-selector - tests/test_oss.py is not in the matrix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewConsoleSink(&buf, "text")
			if err := sink.Write(tt.event); err != nil {
				t.Fatalf("Write returned error: %v", err)
			}
			if got := strings.TrimRight(buf.String(), "\n"); got != tt.want {
				t.Fatalf("got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestConsoleSink_TextIgnoresUnknownEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "text")
	if err := sink.Write(Event{Type: "something.else"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestConsoleSink_JSONWritesArrayOnClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "json")
	_ = sink.Write(Event{Type: EventJobStarted, Selector: "a"})
	_ = sink.Write(Event{Type: EventJobFinished, Selector: "a", Status: "PASS"})
	if buf.Len() != 0 {
		t.Fatalf("json mode must not write before Close")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	var got []Event
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, buf.String())
	}
	if len(got) != 2 || got[1].Type != EventJobFinished {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestConsoleSink_UnsupportedFormat(t *testing.T) {
	sink := NewConsoleSink(&bytes.Buffer{}, "xml")
	if err := sink.Write(Event{Type: EventJobStarted}); err == nil {
		t.Fatalf("expected error")
	}
	if err := sink.Close(); err == nil {
		t.Fatalf("expected error")
	}
}
