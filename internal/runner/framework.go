package runner

// Framework builds command lines for the underlying test tool. The selector is
// always passed as one argument, unmodified.
type Framework interface {
	Name() string
	// RunArgs returns the argv (executable first) that runs exactly selector.
	RunArgs(selector string) []string
	// CollectArgs returns the argv that lists the tests selector matches
	// without running them.
	CollectArgs(selector string) []string
}

// Pytest runs tests with pytest, failing fast and with coverage.
type Pytest struct {
	Executable string
	Coverage   []string
}

func (p Pytest) Name() string { return "pytest" }

func (p Pytest) executable() string {
	if p.Executable == "" {
		return "pytest"
	}
	return p.Executable
}

func (p Pytest) RunArgs(selector string) []string {
	args := []string{p.executable(), "-vvv", "--exitfirst", "--capture", "no", selector}
	for _, cov := range p.Coverage {
		args = append(args, "--cov", cov)
	}
	return args
}

func (p Pytest) CollectArgs(selector string) []string {
	return []string{p.executable(), "--collect-only", "-q", selector}
}
