package output

import "time"

// Event types, in the order a job emits them.
const (
	EventJobStarted       = "job.started"
	EventInstallerSkipped = "installer.skipped"
	EventInstallerFetched = "installer.fetched"
	EventTestsFinished    = "tests.finished"
	EventCommandFinished  = "command.finished"
	EventJobFinished      = "job.finished"

	EventLintIssue    = "lint.issue"
	EventLintFinished = "lint.finished"
)

// Event is a lifecycle record. In ndjson mode every Event is one line; in json
// mode all Events are written as one array on Close.
//
// Only the fields relevant to Type are set.
type Event struct {
	Type      string `json:"type"`
	Selector  string `json:"selector,omitempty"`
	Installer string `json:"installer,omitempty"`
	Dest      string `json:"dest,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Cached    bool   `json:"cached,omitempty"`

	// Fetch and Skip count installers in job.started.
	Fetch int `json:"fetch,omitempty"`
	Skip  int `json:"skip,omitempty"`

	Command    []string `json:"command,omitempty"`
	Status     string   `json:"status,omitempty"`
	ExitCode   int      `json:"exit_code,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`

	// Check names the lint check that produced a lint.issue.
	Check   string `json:"check,omitempty"`
	Message string `json:"message,omitempty"`
}

// Millis converts d for Event.DurationMS.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
