package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cimatrix/internal/config"
	"cimatrix/internal/exitcodes"
	"cimatrix/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "cimatrix",
	Short: "Download only the installers a CI matrix job needs, then run its tests",
	Long: `cimatrix coordinates one job of a CI test matrix.

Each matrix entry names a test selector (a file, directory or node ID). cimatrix
looks the selector up in the pattern catalog, downloads only the DC/OS installers
those tests need, and runs the test framework restricted to that selector.

Examples:
	# Download and test the selector in CI_PATTERN
	cimatrix run

	# Same, with an explicit selector
	cimatrix run --pattern tests/test_cli

	# List every selector the matrix must contain
	cimatrix patterns list -q

	# Check the workflow matrix against the catalog
	cimatrix matrix lint --workflow .github/workflows/ci.yml

Exit codes:
	0   tests passed (or nothing to do)
	N   the test framework's own exit code when tests ran and failed
	70  the test framework could not be started
	74  a required installer could not be downloaded, or is missing for "test"
	78  configuration error (unknown selector, missing installer URL, bad flags)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.Job.Catalog, flags.FlagCatalog, "", "Pattern catalog YAML (default: the catalog built into cimatrix)")
	pf.StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Log level on stderr: debug|info|warn|error")
	pf.BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every HTTP request; implies --log-level debug)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitcodes.Config)
	}
}
