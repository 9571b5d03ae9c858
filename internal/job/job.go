// Package job runs one CI matrix job: resolve the installers a selector needs,
// download them, then run the tests it selects.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cimatrix/internal/catalog"
	"cimatrix/internal/config"
	"cimatrix/internal/ctxlog"
	"cimatrix/internal/exitcodes"
	"cimatrix/internal/fetcher"
	"cimatrix/internal/output"
	"cimatrix/internal/resolver"
	"cimatrix/internal/runner"
)

// Steps selects which parts of a job run.
type Steps int

const (
	StepDownload Steps = 1 << iota
	StepTest

	StepAll = StepDownload | StepTest
)

// Resolver decides which installers a selector needs.
type Resolver interface {
	// Resolve binds the selector's installers to URLs and destinations.
	Resolve(selector string) (*resolver.Outcome, error)
	// Check reports whether selector is known and its installers are already
	// in place. It never reads installer URLs.
	Check(selector string) error
}

type Fetcher interface {
	FetchAll(ctx context.Context, bindings []resolver.Binding) ([]fetcher.Result, error)
}

type Runner interface {
	Run(ctx context.Context, selector string) runner.Result
	Exec(ctx context.Context, argv []string) runner.Result
}

// EventWriter receives lifecycle events. *output.Manager satisfies it.
type EventWriter interface {
	Write(e output.Event) error
}

// Report is everything a job did.
type Report struct {
	Selector string
	Outcome  *resolver.Outcome
	Fetched  []fetcher.Result
	Tests    *runner.Result
	Commands []runner.Result
	ExitCode int
	Err      error
}

// Status summarizes the report as PASS, FAIL or ERROR.
func (r Report) Status() string {
	switch {
	case r.ExitCode == exitcodes.Success:
		return string(runner.StatusPass)
	case r.Err != nil:
		return string(runner.StatusError)
	case r.Tests != nil && r.Tests.Status == runner.StatusError:
		return string(runner.StatusError)
	case len(r.Commands) > 0 && r.Commands[len(r.Commands)-1].Status == runner.StatusError:
		return string(runner.StatusError)
	default:
		return string(runner.StatusFail)
	}
}

// Pipeline runs jobs. Pipelines share nothing; build one per job.
type Pipeline struct {
	resolver Resolver
	fetcher  Fetcher
	runner   Runner
	out      EventWriter
	fallback [][]string
	steps    Steps
}

type Option func(*Pipeline)

// WithSteps limits the pipeline to the given steps. The default is StepAll.
func WithSteps(s Steps) Option {
	return func(p *Pipeline) { p.steps = s }
}

// WithFallbackCommands sets the commands run when a job has no selector.
func WithFallbackCommands(cmds [][]string) Option {
	return func(p *Pipeline) { p.fallback = cmds }
}

// WithEvents sends lifecycle events to w.
func WithEvents(w EventWriter) Option {
	return func(p *Pipeline) { p.out = w }
}

func NewPipeline(res Resolver, f Fetcher, r Runner, opts ...Option) (*Pipeline, error) {
	if res == nil {
		return nil, errors.New("job: resolver is nil")
	}
	p := &Pipeline{resolver: res, fetcher: f, runner: r, steps: StepAll}
	for _, apply := range opts {
		if apply != nil {
			apply(p)
		}
	}
	if p.steps&StepDownload != 0 && p.fetcher == nil {
		return nil, errors.New("job: download step needs a fetcher")
	}
	if p.steps&StepTest != 0 && p.runner == nil {
		return nil, errors.New("job: test step needs a runner")
	}
	return p, nil
}

// Execute runs the job for selector. Steps run strictly in order and the test
// step never starts if resolution or download failed. An empty selector runs
// the fallback commands instead of tests.
func (p *Pipeline) Execute(ctx context.Context, selector string) Report {
	log := ctxlog.FromContext(ctx).With("selector", selector)
	rep := Report{Selector: selector}

	finish := func() Report {
		if rep.Err != nil {
			rep.ExitCode = ExitCode(rep.Err)
			log.Error("job failed", "exit_code", rep.ExitCode, "error", rep.Err)
		}
		e := output.Event{Type: output.EventJobFinished, Selector: selector, Status: rep.Status(), ExitCode: rep.ExitCode}
		if rep.Err != nil {
			e.Message = rep.Err.Error()
		}
		p.emit(e)
		return rep
	}

	if selector == "" {
		p.emit(output.Event{Type: output.EventJobStarted})
		if p.steps&StepTest != 0 {
			p.runFallback(ctx, &rep)
		}
		return finish()
	}

	if p.steps&StepDownload == 0 {
		p.emit(output.Event{Type: output.EventJobStarted, Selector: selector})
		if err := p.resolver.Check(selector); err != nil {
			rep.Err = err
			return finish()
		}
		p.runTests(ctx, &rep)
		return finish()
	}

	outcome, err := p.resolver.Resolve(selector)
	if err != nil {
		p.emit(output.Event{Type: output.EventJobStarted, Selector: selector})
		rep.Err = err
		return finish()
	}
	rep.Outcome = outcome
	p.emit(output.Event{Type: output.EventJobStarted, Selector: selector, Fetch: len(outcome.Fetch), Skip: len(outcome.Skip)})
	for _, inst := range outcome.Skip {
		p.emit(output.Event{Type: output.EventInstallerSkipped, Selector: selector, Installer: inst.Name})
	}
	log.Info("resolved installers", "fetch", outcome.FetchNames(), "skip", len(outcome.Skip))

	fetched, err := p.fetcher.FetchAll(ctx, outcome.Fetch)
	if err != nil {
		rep.Err = err
		return finish()
	}
	rep.Fetched = fetched
	for _, f := range fetched {
		p.emit(output.Event{
			Type:       output.EventInstallerFetched,
			Selector:   selector,
			Installer:  f.Installer,
			Dest:       f.Dest,
			Bytes:      f.Bytes,
			Cached:     f.Cached,
			DurationMS: output.Millis(f.Duration),
		})
	}

	if p.steps&StepTest != 0 {
		p.runTests(ctx, &rep)
	}
	return finish()
}

func (p *Pipeline) runTests(ctx context.Context, rep *Report) {
	res := p.runner.Run(ctx, rep.Selector)
	rep.Tests = &res
	rep.ExitCode = res.ExitCode
	p.emit(output.Event{
		Type:       output.EventTestsFinished,
		Selector:   rep.Selector,
		Status:     string(res.Status),
		ExitCode:   res.ExitCode,
		DurationMS: output.Millis(res.Duration),
		Message:    res.Message,
	})
}

// runFallback runs the fallback commands in order and stops at the first one
// that does not pass.
func (p *Pipeline) runFallback(ctx context.Context, rep *Report) {
	for _, argv := range p.fallback {
		res := p.runner.Exec(ctx, argv)
		rep.Commands = append(rep.Commands, res)
		rep.ExitCode = res.ExitCode
		p.emit(output.Event{
			Type:       output.EventCommandFinished,
			Command:    argv,
			Status:     string(res.Status),
			ExitCode:   res.ExitCode,
			DurationMS: output.Millis(res.Duration),
			Message:    res.Message,
		})
		if res.Status != runner.StatusPass {
			return
		}
	}
}

func (p *Pipeline) emit(e output.Event) {
	if p.out == nil {
		return
	}
	// Sink failures never change the job outcome.
	_ = p.out.Write(e)
}

// ExitCode maps a job error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var (
		unmapped *catalog.UnmappedSelectorError
		cfgErr   *resolver.ConfigError
		fetchErr *fetcher.FetchError
		missing  *MissingInstallerError
	)
	switch {
	case errors.As(err, &unmapped), errors.As(err, &cfgErr):
		return exitcodes.Config
	case errors.As(err, &fetchErr), errors.As(err, &missing):
		return exitcodes.IOErr
	default:
		return exitcodes.Software
	}
}

// CatalogResolver resolves selectors against a catalog and an environment
// snapshot.
type CatalogResolver struct {
	Catalog     *catalog.Catalog
	Env         config.Env
	ArtifactDir string
}

func (r CatalogResolver) Resolve(selector string) (*resolver.Outcome, error) {
	return resolver.Resolve(r.Catalog, selector, r.Env, r.ArtifactDir)
}

// Check confirms every installer selector requires is a regular file at its
// destination, as a previous download step leaves it.
func (r CatalogResolver) Check(selector string) error {
	if r.Catalog == nil {
		return fmt.Errorf("resolve: nil catalog")
	}
	required, err := r.Catalog.Required(selector)
	if err != nil {
		return err
	}
	var missing []string
	for _, inst := range required {
		dest := resolver.Destination(inst, r.ArtifactDir)
		fi, err := os.Stat(dest)
		if err != nil || !fi.Mode().IsRegular() {
			missing = append(missing, fmt.Sprintf("%q at %s", inst.Name, dest))
		}
	}
	if len(missing) > 0 {
		return &MissingInstallerError{Selector: selector, Missing: missing}
	}
	return nil
}

// MissingInstallerError reports required installers that are not on disk
// when tests are about to run.
type MissingInstallerError struct {
	Selector string
	// Missing holds one `"name" at path` entry per absent installer.
	Missing []string
}

func (e *MissingInstallerError) Error() string {
	return fmt.Sprintf("selector %q needs installers that are not present: %s (run \"cimatrix download\" first)",
		e.Selector, strings.Join(e.Missing, ", "))
}
