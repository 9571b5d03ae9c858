package matrix

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"cimatrix/internal/catalog"
	"cimatrix/internal/runner"
)

// Checks reported by Lint.
const (
	CheckUnknownSelector   = "unknown-selector"
	CheckMissingSelector   = "missing-selector"
	CheckDuplicateSelector = "duplicate-selector"
	CheckFailFast          = "fail-fast"
	CheckUnusedInstaller   = "unused-installer"
	CheckNoTestsCollected  = "no-tests-collected"
)

// Issue is one lint finding.
type Issue struct {
	Check    string `json:"check"`
	Selector string `json:"selector,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// Collector checks that a selector matches at least one test.
// *runner.Runner satisfies it.
type Collector interface {
	Collect(ctx context.Context, selector string) runner.Result
}

type Linter struct {
	catalog     *catalog.Catalog
	collector   Collector
	concurrency int
}

type Option func(*Linter)

// WithCollector enables the collect check using c.
func WithCollector(c Collector) Option {
	return func(l *Linter) { l.collector = c }
}

// WithConcurrency bounds simultaneous collect runs.
func WithConcurrency(n int) Option {
	return func(l *Linter) { l.concurrency = n }
}

func NewLinter(c *catalog.Catalog, opts ...Option) (*Linter, error) {
	if c == nil {
		return nil, fmt.Errorf("linter: catalog is nil")
	}
	l := &Linter{catalog: c, concurrency: 1}
	for _, apply := range opts {
		if apply != nil {
			apply(l)
		}
	}
	if l.concurrency <= 0 {
		l.concurrency = 1
	}
	return l, nil
}

// Lint compares m against the catalog. The matrix and the catalog must list
// the same selectors, each once; the empty "no tests" entry is exempt. GitHub
// jobs must set fail-fast: false so one failing selector does not cancel the
// others. Issues come back grouped by check, in a stable order.
func (l *Linter) Lint(ctx context.Context, m *Matrix) ([]Issue, error) {
	if m == nil {
		return nil, fmt.Errorf("lint: matrix is nil")
	}
	var issues []Issue

	for _, j := range m.Jobs {
		if m.Format == "github" && (j.FailFast == nil || *j.FailFast) {
			issues = append(issues, Issue{
				Check:   CheckFailFast,
				Line:    j.Line,
				Message: fmt.Sprintf("job %q must set strategy.fail-fast: false", j.Name),
			})
		}
	}

	seen := make(map[string]int)
	var listed []string
	for _, e := range m.Entries {
		if first, dup := seen[e.Selector]; dup {
			name := e.Selector
			if name == "" {
				name = "''"
			}
			issues = append(issues, Issue{
				Check:    CheckDuplicateSelector,
				Selector: e.Selector,
				Line:     e.Line,
				Message:  fmt.Sprintf("%s is listed more than once (first on line %d)", name, first),
			})
			continue
		}
		seen[e.Selector] = e.Line
		if e.Selector == "" {
			continue
		}
		if !l.catalog.Has(e.Selector) {
			issues = append(issues, Issue{
				Check:    CheckUnknownSelector,
				Selector: e.Selector,
				Line:     e.Line,
				Message:  fmt.Sprintf("%s is not in the pattern catalog", e.Selector),
			})
			continue
		}
		listed = append(listed, e.Selector)
	}

	for _, sel := range l.catalog.Expand() {
		if _, ok := seen[sel]; !ok {
			issues = append(issues, Issue{
				Check:    CheckMissingSelector,
				Selector: sel,
				Message:  fmt.Sprintf("%s is in the pattern catalog but no matrix job runs it", sel),
			})
		}
	}

	for _, name := range l.catalog.Unused() {
		issues = append(issues, Issue{
			Check:   CheckUnusedInstaller,
			Message: fmt.Sprintf("installer %q is not required by any selector", name),
		})
	}

	if l.collector != nil {
		sort.Strings(listed)
		collected, err := l.collect(ctx, listed)
		if err != nil {
			return nil, err
		}
		issues = append(issues, collected...)
	}
	return issues, nil
}

func (l *Linter) collect(ctx context.Context, selectors []string) ([]Issue, error) {
	results := make([]runner.Result, len(selectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, sel := range selectors {
		g.Go(func() error {
			results[i] = l.collector.Collect(gctx, sel)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	var issues []Issue
	for _, res := range results {
		if res.Status == runner.StatusPass {
			continue
		}
		msg := fmt.Sprintf("%s does not match any tests (collect exit %d)", res.Selector, res.ExitCode)
		if res.Message != "" {
			msg += ": " + res.Message
		}
		issues = append(issues, Issue{Check: CheckNoTestsCollected, Selector: res.Selector, Message: msg})
	}
	return issues, nil
}
