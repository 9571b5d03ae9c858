package github

import (
	"context"
	"errors"
	"os/exec"
	"sort"
	"strings"
	"time"

	"cimatrix/internal/config"
)

// TokenSource names where a token came from. It is safe to log.
type TokenSource string

const (
	TokenFromFlag    TokenSource = "flag"
	TokenFromEnv     TokenSource = "env:GITHUB_TOKEN"
	TokenFromGHEnv   TokenSource = "env:GH_TOKEN"
	TokenFromGHLogin TokenSource = "gh auth token"
)

const ghTimeout = 5 * time.Second

// ResolveAuthToken finds a token for reading workflow files. The first
// non-empty value wins: provided, $GITHUB_TOKEN, $GH_TOKEN, then the GitHub
// CLI login for $GH_HOST (github.com when unset).
//
// Public repositories need no token, so finding none is not an error.
func ResolveAuthToken(ctx context.Context, provided string, env config.Env) (string, TokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, TokenFromFlag, nil
	}
	if tok := env.Get("GITHUB_TOKEN"); tok != "" {
		return tok, TokenFromEnv, nil
	}
	if tok := env.Get("GH_TOKEN"); tok != "" {
		return tok, TokenFromGHEnv, nil
	}

	host := env.Get("GH_HOST")
	if host == "" {
		host = "github.com"
	}
	tok, err := ghLoginToken(ctx, host, env)
	if err != nil || tok == "" {
		return "", "", err
	}
	return tok, TokenFromGHLogin, nil
}

// ghLoginToken asks the gh CLI for its stored token. A missing gh binary or a
// failed login yields "" without error; gh's output is never surfaced.
func ghLoginToken(ctx context.Context, host string, env config.Env) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ghTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "--hostname", host)
	cmd.Env = ghEnviron(env)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\r\n") {
		return "", errors.New("gh auth token: unexpected output")
	}
	return tok, nil
}

// ghEnviron renders env for the gh subprocess with paging disabled.
func ghEnviron(env config.Env) []string {
	out := make([]string, 0, len(env)+1)
	for k, v := range env {
		if k == "GH_PAGER" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return append(out, "GH_PAGER=cat")
}
