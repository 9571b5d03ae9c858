package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cimatrix/internal/catalog"
	"cimatrix/internal/config"
	"cimatrix/internal/ctxlog"
	"cimatrix/internal/exitcodes"
	"cimatrix/internal/flags"
	gh "cimatrix/internal/github"
	"cimatrix/internal/matrix"
	"cimatrix/internal/output"
	"cimatrix/internal/runner"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Check the CI matrix against the pattern catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var matrixLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Verify the workflow matrix lists exactly the catalog's selectors",
	Long: `Verify that the CI matrix and the pattern catalog agree. Every selector
the matrix runs must be in the catalog (so its job downloads the right
installers), and every catalog selector must be run by the matrix.

Checks:
  unknown-selector     matrix entry missing from the catalog
  missing-selector     catalog selector no matrix job runs
  duplicate-selector   matrix entry listed more than once
  fail-fast            GitHub job does not set strategy.fail-fast: false
  unused-installer     installer no selector requires
  no-tests-collected   selector matches no tests (only with --collect)

The empty entry '' is the job that runs no tests and is always allowed.
Both GitHub Actions workflows (jobs.*.strategy.matrix.<key>, plus <key> in
strategy.matrix.include entries) and .travis.yml files (env.matrix entries of
the form CI_PATTERN=<selector>) are understood. Matrices computed at run time
(fromJSON expressions) cannot be linted.

Authentication:
  --repo reads the workflow through the GitHub API. A token is optional for
  public repositories and is taken from GITHUB_TOKEN or "gh auth token".

Exit codes:
  0   no issues
  1   issues found
  78  the workflow or catalog could not be read

Examples:
  cimatrix matrix lint
  cimatrix matrix lint --workflow .travis.yml
  cimatrix matrix lint --repo dcos/dcos-e2e --ref main --collect
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runMatrixLint(cmd))
	},
}

func runMatrixLint(cmd *cobra.Command) int {
	stderr := cmd.ErrOrStderr()
	env := config.EnvFromOS()

	ctx, cancel, outMgr, err := setup(cmd, env)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Config
	}
	defer cancel()
	defer func() {
		if err := outMgr.Close(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}()

	cat, err := catalog.Load(cfg.Job.Catalog)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Config
	}

	var remote matrix.FileFetcher
	if cfg.Lint.Repo != "" {
		token, source, err := gh.ResolveAuthToken(ctx, "", env)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to resolve GitHub auth token: %v\n", err)
			return exitcodes.Config
		}
		if source == "" {
			ctxlog.FromContext(ctx).Debug("no GitHub token found; using unauthenticated requests")
		} else {
			ctxlog.FromContext(ctx).Debug("using GitHub token", "source", string(source))
		}
		client, err := gh.NewClient(ctx, token, gh.WithVerbose(cfg.Runtime.Verbose, stderr))
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to create GitHub client: %v\n", err)
			return exitcodes.Config
		}
		remote = client
	}

	data, err := matrix.Read(ctx, cfg.Lint.Workflow, remote, cfg.Lint.Repo, cfg.Lint.Ref)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Config
	}
	m, err := matrix.Parse(data, cfg.Lint.MatrixKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s: %v\n", cfg.Lint.Workflow, err)
		return exitcodes.Config
	}

	var opts []matrix.Option
	if cfg.Lint.Collect {
		col, err := runner.New(
			runner.Pytest{Executable: cfg.Runner.Framework},
			runner.WithDir(cfg.Runner.Workdir),
			// Collection output is noise; only the exit code matters.
			runner.WithOutput(nil, nil),
		)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitcodes.Software
		}
		opts = append(opts, matrix.WithCollector(col), matrix.WithConcurrency(cfg.Fetch.Concurrency))
	}
	linter, err := matrix.NewLinter(cat, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Software
	}

	issues, err := linter.Lint(ctx, m)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Software
	}

	for _, is := range issues {
		msg := is.Message
		if is.Line > 0 {
			msg = fmt.Sprintf("%s:%d: %s", cfg.Lint.Workflow, is.Line, msg)
		}
		_ = outMgr.Write(output.Event{Type: output.EventLintIssue, Check: is.Check, Selector: is.Selector, Message: msg})
	}

	status, code := "PASS", exitcodes.Success
	if len(issues) > 0 {
		status, code = "FAIL", exitcodes.TestFailure
	}
	_ = outMgr.Write(output.Event{
		Type:     output.EventLintFinished,
		Status:   status,
		ExitCode: code,
		Message:  fmt.Sprintf("%d matrix entries, %d catalog selectors, %d issue(s)", len(m.Entries), len(cat.Expand()), len(issues)),
	})
	return code
}

func init() {
	rootCmd.AddCommand(matrixCmd)
	matrixCmd.AddCommand(matrixLintCmd)

	f := matrixLintCmd.Flags()
	f.StringVar(&cfg.Lint.Workflow, flags.FlagWorkflow, cfg.Lint.Workflow, "CI file to lint (GitHub Actions workflow or .travis.yml)")
	f.StringVar(&cfg.Lint.MatrixKey, flags.FlagMatrixKey, cfg.Lint.MatrixKey, "Matrix variable that holds selectors")
	f.StringVar(&cfg.Lint.Repo, flags.FlagRepo, "", "Read the CI file from this GitHub repository (OWNER/REPO)")
	f.StringVar(&cfg.Lint.Ref, flags.FlagRef, "", "Git ref to read with --repo (default: the default branch)")
	f.BoolVar(&cfg.Lint.Collect, flags.FlagCollect, false, "Also check that every selector collects at least one test")
	f.StringVar(&cfg.Runner.Framework, flags.FlagFramework, cfg.Runner.Framework, "Test framework executable used by --collect")
	f.StringVar(&cfg.Runner.Workdir, flags.FlagWorkdir, "", "Directory to collect tests in (default: current directory)")
	f.IntVar(&cfg.Fetch.Concurrency, flags.FlagConcurrency, cfg.Fetch.Concurrency, "Concurrent collect runs")
	addOutputFlags(matrixLintCmd)
}
