package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "json", "ndjson"
	mu     sync.Mutex
	events []Event // For JSON array output
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

func (s *ConsoleSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		s.events = append(s.events, e)
		return nil
	case "ndjson":
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		line := formatText(e)
		if line == "" {
			return nil
		}
		if _, err := fmt.Fprintln(s.writer, line); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		events := s.events
		if events == nil {
			events = []Event{}
		}
		if err := encoder.Encode(events); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	errColor  = color.New(color.FgYellow, color.Bold)
	dimColor  = color.New(color.Faint)
	boldColor = color.New(color.Bold)
)

func statusTag(status string) string {
	tag := "[" + status + "]"
	switch status {
	case "PASS":
		return passColor.Sprint(tag)
	case "FAIL":
		return failColor.Sprint(tag)
	default:
		return errColor.Sprint(tag)
	}
}

// formatText renders one event as a human-readable line. Events with nothing
// to say render as "".
func formatText(e Event) string {
	var b strings.Builder
	switch e.Type {
	case EventJobStarted:
		if e.Selector == "" {
			fmt.Fprintf(&b, "%s %s", boldColor.Sprint("==>"), selectorName(e.Selector))
			break
		}
		fmt.Fprintf(&b, "%s %s: fetching %d installer(s), skipping %d",
			boldColor.Sprint("==>"), e.Selector, e.Fetch, e.Skip)
	case EventInstallerSkipped:
		b.WriteString(dimColor.Sprintf("    skip   %s", e.Installer))
	case EventInstallerFetched:
		fmt.Fprintf(&b, "    fetch  %s -> %s", e.Installer, e.Dest)
		if e.Cached {
			b.WriteString(" (cached)")
		} else {
			fmt.Fprintf(&b, " (%d bytes, %s)", e.Bytes, millisString(e.DurationMS))
		}
	case EventTestsFinished:
		fmt.Fprintf(&b, "%s %s (exit %d, %s)", statusTag(e.Status), e.Selector, e.ExitCode, millisString(e.DurationMS))
	case EventCommandFinished:
		fmt.Fprintf(&b, "%s %s (exit %d)", statusTag(e.Status), strings.Join(e.Command, " "), e.ExitCode)
	case EventJobFinished:
		fmt.Fprintf(&b, "%s job %s: exit %d", statusTag(e.Status), selectorName(e.Selector), e.ExitCode)
	case EventLintIssue:
		fmt.Fprintf(&b, "%s %s", statusTag("FAIL"), e.Check)
	case EventLintFinished:
		fmt.Fprintf(&b, "%s matrix lint", statusTag(e.Status))
	default:
		return ""
	}
	if e.Message != "" && e.Type != EventInstallerSkipped {
		fmt.Fprintf(&b, " - %s", e.Message)
	}
	return b.String()
}

// selectorName labels the job that runs no tests.
func selectorName(selector string) string {
	if selector == "" {
		return "(no selector)"
	}
	return selector
}

func millisString(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
