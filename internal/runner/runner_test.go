package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"cimatrix/internal/exitcodes"
)

// helperFramework re-executes the test binary as the "framework". The helper
// prints its argv and exits with the code requested in HELPER_EXIT.
type helperFramework struct{}

func (helperFramework) Name() string { return "helper" }

func (helperFramework) RunArgs(selector string) []string {
	return []string{os.Args[0], "-test.run=TestHelperProcess", "--", "run", selector}
}

func (helperFramework) CollectArgs(selector string) []string {
	return []string{os.Args[0], "-test.run=TestHelperProcess", "--", "collect", selector}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:]
	}
	for _, a := range args {
		fmt.Fprintf(os.Stdout, "arg:%s\n", a)
	}
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT"))
	os.Exit(code)
}

func helperEnv(exit int) []string {
	return append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_EXIT="+strconv.Itoa(exit))
}

func helperArgs(out string) []string {
	var args []string
	for _, line := range strings.Split(out, "\n") {
		if a, ok := strings.CutPrefix(line, "arg:"); ok {
			args = append(args, a)
		}
	}
	return args
}

func TestRun_PassesSelectorOnceUnmodified(t *testing.T) {
	selector := "tests/test_legacy.py::Test113::test_enterprise"
	var stdout bytes.Buffer
	r, err := New(helperFramework{}, WithEnv(helperEnv(0)), WithOutput(&stdout, io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res := r.Run(context.Background(), selector)
	if res.Status != StatusPass || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, want := helperArgs(stdout.String()), []string{"run", selector}; !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch: got %q want %q", got, want)
	}
}

func TestRun_MirrorsFrameworkExitCode(t *testing.T) {
	for _, code := range []int{1, 2, 5} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			r, err := New(helperFramework{}, WithEnv(helperEnv(code)), WithOutput(io.Discard, io.Discard))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res := r.Run(context.Background(), "tests/test_cli")
			if res.Status != StatusFail || res.ExitCode != code {
				t.Fatalf("expected FAIL with exit %d, got %+v", code, res)
			}
		})
	}
}

func TestCollect_UsesCollectArgs(t *testing.T) {
	var stdout bytes.Buffer
	r, err := New(helperFramework{}, WithEnv(helperEnv(0)), WithOutput(&stdout, io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.Collect(context.Background(), "tests/test_oss.py")
	if res.Status != StatusPass {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := helperArgs(stdout.String()); len(got) == 0 || got[0] != "collect" {
		t.Fatalf("expected collect invocation, got %q", got)
	}
}

func TestRun_MissingExecutableIsError(t *testing.T) {
	fw := Pytest{Executable: "/nonexistent/bin/pytest-" + strconv.FormatInt(time.Now().UnixNano(), 10)}
	r, err := New(fw, WithOutput(io.Discard, io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.Run(context.Background(), "tests/test_cli")
	if res.Status != StatusError || res.ExitCode != exitcodes.Software {
		t.Fatalf("expected ERROR with exit %d, got %+v", exitcodes.Software, res)
	}
	if res.Message == "" {
		t.Fatalf("expected a message describing the failure")
	}
}

func TestRun_EmptySelectorNeverStartsFramework(t *testing.T) {
	called := false
	r, err := New(Pytest{}, WithProcess(func(context.Context, []string, string, []string, io.Writer, io.Writer) (int, error) {
		called = true
		return 0, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.Run(context.Background(), "")
	if called {
		t.Fatalf("framework must not run without a selector")
	}
	if res.Status != StatusError || res.ExitCode != exitcodes.Config {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_CancelledContextIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := New(Pytest{}, WithProcess(func(ctx context.Context, _ []string, _ string, _ []string, _, _ io.Writer) (int, error) {
		return 0, errors.New("signal: killed")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.Run(ctx, "tests/test_cli")
	if res.Status != StatusError || !strings.Contains(res.Message, "context canceled") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPytestArgs(t *testing.T) {
	p := Pytest{Coverage: []string{"src/dcos_e2e", "tests"}}
	got := p.RunArgs("tests/test_cli.py::test_version")
	want := []string{"pytest", "-vvv", "--exitfirst", "--capture", "no", "tests/test_cli.py::test_version", "--cov", "src/dcos_e2e", "--cov", "tests"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RunArgs mismatch:\n got %q\nwant %q", got, want)
	}

	got = Pytest{Executable: "/venv/bin/pytest"}.CollectArgs("tests/test_oss.py")
	want = []string{"/venv/bin/pytest", "--collect-only", "-q", "tests/test_oss.py"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CollectArgs mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestNew_NilFramework(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExec_RunsCommandVerbatim(t *testing.T) {
	var got []string
	r, err := New(Pytest{}, WithDir("/src"), WithProcess(func(_ context.Context, argv []string, dir string, _ []string, _, _ io.Writer) (int, error) {
		got = argv
		if dir != "/src" {
			return 0, fmt.Errorf("unexpected dir %q", dir)
		}
		return 2, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.Exec(context.Background(), []string{"make", "lint"})
	if !reflect.DeepEqual(got, []string{"make", "lint"}) {
		t.Fatalf("unexpected argv %q", got)
	}
	if res.Status != StatusFail || res.ExitCode != 2 || res.Selector != "make lint" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if res := r.Exec(context.Background(), nil); res.Status != StatusError {
		t.Fatalf("expected ERROR for empty command, got %+v", res)
	}
}
