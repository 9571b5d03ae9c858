package output

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// SummarySink appends a Markdown summary of a job or lint run to a file. It is
// meant for $GITHUB_STEP_SUMMARY, which several steps append to, so the file is
// never truncated.
type SummarySink struct {
	path   string
	mu     sync.Mutex
	events []Event
}

func NewSummarySink(path string) (*SummarySink, error) {
	if path == "" {
		return nil, fmt.Errorf("summary path required")
	}
	return &SummarySink{path: path}, nil
}

func (s *SummarySink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *SummarySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open summary file: %w", err)
	}
	if _, err := f.WriteString(renderSummary(s.events)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func renderSummary(events []Event) string {
	var (
		b         strings.Builder
		installed []Event
		skipped   []string
		commands  []Event
		issues    []Event
		tests     *Event
		job       *Event
		lint      *Event
	)
	for i := range events {
		e := events[i]
		switch e.Type {
		case EventInstallerFetched:
			installed = append(installed, e)
		case EventInstallerSkipped:
			skipped = append(skipped, e.Installer)
		case EventCommandFinished:
			commands = append(commands, e)
		case EventLintIssue:
			issues = append(issues, e)
		case EventTestsFinished:
			tests = &e
		case EventJobFinished:
			job = &e
		case EventLintFinished:
			lint = &e
		}
	}

	if job != nil {
		title := job.Selector
		if title == "" {
			title = "(no selector)"
		}
		fmt.Fprintf(&b, "## %s `%s`\n\n", statusEmoji(job.Status), mdEscape(title))

		if len(installed) > 0 {
			b.WriteString("| Installer | Destination | Size |\n|---|---|---|\n")
			for _, e := range installed {
				size := fmt.Sprintf("%d bytes", e.Bytes)
				if e.Cached {
					size += " (cached)"
				}
				fmt.Fprintf(&b, "| %s | `%s` | %s |\n", mdEscape(e.Installer), mdEscape(e.Dest), size)
			}
			b.WriteString("\n")
		}
		if len(skipped) > 0 {
			fmt.Fprintf(&b, "Skipped installers: %s\n\n", mdEscape(strings.Join(skipped, ", ")))
		}
		for _, c := range commands {
			fmt.Fprintf(&b, "- %s `%s` (exit %d)\n", statusEmoji(c.Status), mdEscape(strings.Join(c.Command, " ")), c.ExitCode)
		}
		if len(commands) > 0 {
			b.WriteString("\n")
		}
		if tests != nil {
			fmt.Fprintf(&b, "**Tests:** %s (exit %d) in %s\n\n", tests.Status, tests.ExitCode, millisString(tests.DurationMS))
		}
		fmt.Fprintf(&b, "**Job exit code:** %d\n", job.ExitCode)
		if job.Message != "" {
			fmt.Fprintf(&b, "\n> %s\n", mdEscape(job.Message))
		}
		b.WriteString("\n")
	}

	if lint != nil {
		fmt.Fprintf(&b, "## %s Matrix lint\n\n", statusEmoji(lint.Status))
		if len(issues) == 0 {
			b.WriteString("No issues.\n")
		}
		for _, e := range issues {
			fmt.Fprintf(&b, "- **%s**: %s\n", e.Check, mdEscape(e.Message))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func statusEmoji(status string) string {
	switch status {
	case "PASS":
		return "✅"
	case "FAIL":
		return "❌"
	default:
		return "⚠️"
	}
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
