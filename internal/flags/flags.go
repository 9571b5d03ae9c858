package flags

// Package flags defines canonical CLI flag names shared across the CLI and the
// config validation messages, so an error always names the flag the user typed.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Job.Pattern, flags.FlagPattern, "", "...")
//	arg := "--" + flags.FlagPattern
const (
	// Job
	FlagPattern = "pattern"
	FlagCatalog = "catalog"

	// Fetch
	FlagArtifactDir  = "artifact-dir"
	FlagFetchTimeout = "fetch-timeout"
	FlagConcurrency  = "concurrency"
	FlagNoCache      = "no-cache"

	// Runner
	FlagFramework = "framework"
	FlagCov       = "cov"
	FlagWorkdir   = "workdir"

	// Lint
	FlagWorkflow  = "workflow"
	FlagMatrixKey = "matrix-key"
	FlagRepo      = "repo"
	FlagRef       = "ref"
	FlagCollect   = "collect"

	// Output
	FlagConsoleFormat = "console-format"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagNoConsole     = "no-console"
	FlagSummary       = "summary"

	// Runtime
	FlagLogLevel = "log-level"
	FlagVerbose  = "verbose"
	FlagTimeout  = "timeout"
)

// PatternEnv is the environment variable that carries the active matrix
// entry's selector.
const PatternEnv = "CI_PATTERN"

// SummaryEnv is where GitHub Actions expects a step's Markdown summary.
const SummaryEnv = "GITHUB_STEP_SUMMARY"
