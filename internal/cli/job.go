package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cimatrix/internal/catalog"
	"cimatrix/internal/config"
	"cimatrix/internal/ctxlog"
	"cimatrix/internal/exitcodes"
	"cimatrix/internal/fetcher"
	"cimatrix/internal/flags"
	"cimatrix/internal/job"
	"cimatrix/internal/output"
	"cimatrix/internal/runner"
	"cimatrix/internal/transport"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the installers the selected tests need",
	Long: `Resolve the selector against the pattern catalog and download exactly the
installers it requires. Installers the selector does not need are skipped,
and their URL secrets are never read.

The selector comes from --pattern, or from CI_PATTERN when the flag is omitted.

Examples:
  CI_PATTERN=tests/test_legacy.py::Test113::test_enterprise cimatrix download
  cimatrix download --pattern tests/test_oss.py --artifact-dir /tmp/installers
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runJob(cmd, job.StepDownload))
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run only the tests the selector names",
	Long: `Run the test framework restricted to the selector. Installers must already
be in place (see "cimatrix download"); if one is missing from --artifact-dir
the job exits 74 without starting the framework. URL secrets are not needed.
Otherwise the process exits with the framework's exit code.

With an empty selector, the catalog's fallback commands run instead.
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runJob(cmd, job.StepTest))
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download the needed installers, then run the selected tests",
	Long: `Run both steps of a matrix job in one process: download the installers the
selector needs, then run its tests. Tests never start if a download failed.

With an empty selector (the matrix entry written as ''), the catalog's
fallback commands run instead, stopping at the first failure.

Output:
	Console output is controlled by --console-format (default: text).
	--out writes every lifecycle event to a file (json or ndjson), and --summary
	appends a Markdown summary (default: $GITHUB_STEP_SUMMARY when set).

	Lifecycle events: job.started, installer.skipped, installer.fetched,
	tests.finished, command.finished, job.finished.

Examples:
  # In a GitHub Actions matrix job
  cimatrix run

  # Locally, with a mirrored installer
  EE_MASTER_ARTIFACT_URL=https://mirror.example/ee.sh cimatrix run --pattern tests/test_enterprise.py
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runJob(cmd, job.StepAll))
	},
}

func addJobFlags(cmd *cobra.Command, steps job.Steps) {
	f := cmd.Flags()
	f.StringVar(&cfg.Job.Pattern, flags.FlagPattern, "", "Test selector for this job, passed to the framework verbatim; '' or blank means none (default: $CI_PATTERN)")

	f.StringVar(&cfg.Fetch.ArtifactDir, flags.FlagArtifactDir, cfg.Fetch.ArtifactDir, "Directory for installers with relative catalog paths")

	if steps&job.StepDownload != 0 {
		f.DurationVar(&cfg.Fetch.Timeout, flags.FlagFetchTimeout, cfg.Fetch.Timeout, "Timeout for each installer download")
		f.IntVar(&cfg.Fetch.Concurrency, flags.FlagConcurrency, cfg.Fetch.Concurrency, "Concurrent downloads")
		f.BoolVar(&cfg.Fetch.NoCache, flags.FlagNoCache, false, "Download even if the installer is already present from the same URL")
	}
	if steps&job.StepTest != 0 {
		f.StringVar(&cfg.Runner.Framework, flags.FlagFramework, cfg.Runner.Framework, "Test framework executable")
		f.StringSliceVar(&cfg.Runner.Coverage, flags.FlagCov, cfg.Runner.Coverage, "Coverage targets passed as --cov (repeatable; comma-separated accepted)")
		f.StringVar(&cfg.Runner.Workdir, flags.FlagWorkdir, "", "Directory to run tests in (default: current directory)")
	}

	addOutputFlags(cmd)
	f.DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, 0, "Timeout for the whole job (0 = none)")
}

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson")
	f.StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write lifecycle events to this path")
	f.StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Format for --out: json|ndjson (default: inferred from file extension)")
	f.BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --out/--summary)")
	f.StringVar(&cfg.Output.Summary, flags.FlagSummary, "", "Append a Markdown summary to this path (default: $GITHUB_STEP_SUMMARY)")
}

// applyImplicitDefaults fills flags the user did not pass from the CI
// environment.
func applyImplicitDefaults(cmd *cobra.Command, cfg *config.Config, env config.Env) {
	if cmd == nil {
		return
	}
	if f := cmd.Flags().Lookup(flags.FlagPattern); f != nil && !f.Changed {
		cfg.Job.Pattern = env[flags.PatternEnv]
	}
	if f := cmd.Flags().Lookup(flags.FlagSummary); f != nil && !f.Changed {
		cfg.Output.Summary = env.Get(flags.SummaryEnv)
	}
}

// setup validates the configuration and builds the logger context and output
// manager shared by every command that emits events.
func setup(cmd *cobra.Command, env config.Env) (context.Context, context.CancelFunc, *output.Manager, error) {
	applyImplicitDefaults(cmd, cfg, env)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := ctxlog.New(cmd.ErrOrStderr(), cfg.Runtime.LogLevel)
	ctx := ctxlog.WithLogger(cmd.Context(), logger)
	cancel := context.CancelFunc(func() {})
	if cfg.Runtime.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Runtime.Timeout)
	}

	outMgr, err := setupOutputManager(cmd.OutOrStdout(), cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, outMgr, nil
}

func setupOutputManager(stdout io.Writer, cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	if cfg.Output.Summary != "" {
		ss, err := output.NewSummarySink(cfg.Output.Summary)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(ss); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// runJob wires the real resolver, fetcher and runner into a pipeline and
// returns the process exit code.
func runJob(cmd *cobra.Command, steps job.Steps) int {
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

	var f job.Fetcher
	if steps&job.StepDownload != 0 {
		httpClient := transport.NewHTTPClient(
			transport.WithLabel("download"),
			transport.WithVerbose(cfg.Runtime.Verbose, stderr),
		)
		f = fetcher.NewFetcher(httpClient,
			fetcher.WithConcurrency(cfg.Fetch.Concurrency),
			fetcher.WithTimeout(cfg.Fetch.Timeout),
			fetcher.WithCache(!cfg.Fetch.NoCache),
		)
	}

	var r job.Runner
	if steps&job.StepTest != 0 {
		// Keep stdout parseable when the console speaks JSON.
		testOut := cmd.OutOrStdout()
		if cfg.Output.ConsoleFormat != "text" && !cfg.Output.NoConsole {
			testOut = stderr
		}
		tr, err := runner.New(
			runner.Pytest{Executable: cfg.Runner.Framework, Coverage: cfg.Runner.Coverage},
			runner.WithDir(cfg.Runner.Workdir),
			runner.WithOutput(testOut, stderr),
		)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitcodes.Software
		}
		r = tr
	}

	p, err := job.NewPipeline(
		job.CatalogResolver{Catalog: cat, Env: env, ArtifactDir: cfg.Fetch.ArtifactDir},
		f, r,
		job.WithSteps(steps),
		job.WithFallbackCommands(cat.FallbackCommands),
		job.WithEvents(outMgr),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.Software
	}

	rep := p.Execute(ctx, cfg.Job.Pattern)
	if rep.Err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", rep.Err)
	}
	return rep.ExitCode
}

func init() {
	addJobFlags(downloadCmd, job.StepDownload)
	addJobFlags(testCmd, job.StepTest)
	addJobFlags(runCmd, job.StepAll)
	rootCmd.AddCommand(downloadCmd, testCmd, runCmd)
}
