package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cimatrix/internal/catalog"
	"cimatrix/internal/flags"
	"cimatrix/internal/resolver"
)

var patternsListQuiet bool

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect the pattern catalog",
	Long: `Inspect the pattern catalog: the selectors the CI matrix fans out over and
the installers each selector needs.

Examples:
  # Every selector, one per line (paste into a workflow matrix)
  cimatrix patterns list -q

  # What a selector downloads
  cimatrix patterns show tests/test_enterprise.py

  # Which selectors download an installer
  cimatrix patterns installers "EE master"
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every selector in the catalog",
	Long: `List every selector in the catalog, sorted.

Output:
  One block per selector:
    ----------------------------------------
    PATTERN: {SELECTOR}
    ----------------------------------------
    Installers: {NAMES or "none"}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.Job.Catalog)
		if err != nil {
			return err
		}
		for _, sel := range cat.Expand() {
			if patternsListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), sel)
				continue
			}
			required, err := cat.Required(sel)
			if err != nil {
				return err
			}
			printPattern(cmd.OutOrStdout(), sel, required, "")
		}
		return nil
	},
}

var patternsShowCmd = &cobra.Command{
	Use:   "show [selector]",
	Short: "Show the installers a selector needs and where they are written",
	Long: `Show the installers a selector needs, where each is written, and which
environment variable supplies its URL.

Examples:
  cimatrix patterns show tests/test_legacy.py::Test113::test_enterprise
  cimatrix patterns show tests/test_oss.py --artifact-dir /srv/installers
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.Job.Catalog)
		if err != nil {
			return err
		}
		required, err := cat.Required(args[0])
		if err != nil {
			return err
		}
		printPattern(cmd.OutOrStdout(), args[0], required, cfg.Fetch.ArtifactDir)
		return nil
	},
}

var patternsInstallersCmd = &cobra.Command{
	Use:   "installers [name]",
	Short: "List installers and the selectors that need each one",
	Long: `List the catalog's installers with their URL source and the selectors that
download them. An installer no selector needs is marked unused.

Examples:
  cimatrix patterns installers
  cimatrix patterns installers "EE 2.0"
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.Job.Catalog)
		if err != nil {
			return err
		}
		installers := cat.Installers
		if len(args) == 1 {
			inst, ok := cat.Installer(args[0])
			if !ok {
				return fmt.Errorf("installer %q is not in the pattern catalog", args[0])
			}
			installers = []catalog.Installer{inst}
		}
		for _, inst := range installers {
			printInstaller(cmd.OutOrStdout(), inst, cat.Dependents(inst.Name))
		}
		return nil
	},
}

func printInstaller(w io.Writer, inst catalog.Installer, dependents []string) {
	color.New(color.Bold).Fprintln(w, inst.Name)
	fmt.Fprintf(w, "  URL:  %s\n", urlSource(inst))
	fmt.Fprintf(w, "  Path: %s\n", inst.Path)
	if len(dependents) == 0 {
		fmt.Fprintln(w, "  Used by: none (unused)")
	} else {
		fmt.Fprintln(w, "  Used by:")
		for _, sel := range dependents {
			fmt.Fprintf(w, "    %s\n", sel)
		}
	}
	fmt.Fprintln(w)
}

func urlSource(inst catalog.Installer) string {
	switch {
	case inst.URLEnv != "" && inst.URL != "":
		return fmt.Sprintf("%s (overridable with $%s)", inst.URL, inst.URLEnv)
	case inst.URLEnv != "":
		return "$" + inst.URLEnv
	default:
		return inst.URL
	}
}

// printPattern writes one selector block. With a non-empty artifactDir each
// installer's destination and URL source are listed too.
func printPattern(w io.Writer, selector string, required []catalog.Installer, artifactDir string) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "PATTERN: %s\n", selector)
	fmt.Fprintln(w, "----------------------------------------")

	if len(required) == 0 {
		fmt.Fprintln(w, "Installers: none")
		fmt.Fprintln(w)
		return
	}
	if artifactDir == "" {
		names := make([]string, 0, len(required))
		for _, inst := range required {
			names = append(names, inst.Name)
		}
		fmt.Fprintf(w, "Installers: %s\n\n", strings.Join(names, ", "))
		return
	}

	fmt.Fprintln(w, "Installers:")
	for _, inst := range required {
		fmt.Fprintf(w, "  %s\n", inst.Name)
		fmt.Fprintf(w, "    Destination: %s\n", resolver.Destination(inst, artifactDir))
		fmt.Fprintf(w, "    URL:         %s\n", urlSource(inst))
	}
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(patternsCmd)
	patternsCmd.AddCommand(patternsListCmd)
	patternsListCmd.Flags().BoolVarP(&patternsListQuiet, "quiet", "q", false, "Only print selectors")
	patternsCmd.AddCommand(patternsShowCmd)
	patternsCmd.AddCommand(patternsInstallersCmd)
	patternsShowCmd.Flags().StringVar(&cfg.Fetch.ArtifactDir, flags.FlagArtifactDir, cfg.Fetch.ArtifactDir, "Directory for installers with relative catalog paths")
}
