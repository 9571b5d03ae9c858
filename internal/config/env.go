package config

import (
	"os"
	"strings"
)

// Env is a read-only snapshot of the process environment taken once at job
// start. Installer URLs arrive through it as CI secrets.
type Env map[string]string

// EnvFromOS snapshots os.Environ.
func EnvFromOS() Env {
	return EnvFromList(os.Environ())
}

// EnvFromList builds an Env from KEY=VALUE entries. Later entries win.
func EnvFromList(entries []string) Env {
	env := make(Env, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// Get returns the trimmed value for key. Unset and blank are both "".
func (e Env) Get(key string) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e[key])
}
