// Package exitcodes defines the process exit codes cimatrix reports to the CI
// runner.
//
// A job whose tests ran exits with the test framework's own exit code. The
// codes below cover the cases where the framework never ran to completion; they
// follow sysexits.h so they do not collide with framework codes.
package exitcodes

const (
	Success     = 0  // All selected tests passed, or nothing to do
	TestFailure = 1  // Tests failed and the framework gave no more specific code
	Software    = 70 // The framework could not be started or was killed
	IOErr       = 74 // A required installer could not be downloaded or is not on disk
	Config      = 78 // Configuration error: missing installer URL, unmapped selector, bad flags
)
