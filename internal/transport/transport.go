package transport

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"
)

type options struct {
	verbose bool
	// writer controls where verbose HTTP logs are written (typically stderr) so
	// structured output on stdout (e.g. NDJSON) stays clean and tests can capture logs.
	writer io.Writer
	label  string
	token  string
	base   http.RoundTripper
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// WithLabel names the client in verbose log lines (e.g. "github api", "download").
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithToken sends the token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithBase replaces http.DefaultTransport as the innermost transport.
func WithBase(rt http.RoundTripper) Option {
	return func(o *options) {
		o.base = rt
	}
}

// loggingRoundTripper wraps an underlying transport and emits one line per
// request and response (including latency) when verbose logging is enabled.
type loggingRoundTripper struct {
	base  http.RoundTripper
	w     io.Writer
	label string
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] %s: %s %s\n", t.label, req.Method, Redact(req.URL))
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] %s: error after %s: %v\n", t.label, dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] %s: %d %s (%s)\n", t.label, resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// NewHTTPClient builds an http.Client with optional verbose logging and bearer
// auth. Timeouts are left to request contexts.
func NewHTTPClient(opts ...Option) *http.Client {
	o := &options{label: "http"}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	transport := o.base
	if transport == nil {
		transport = http.DefaultTransport
	}
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer, label: o.label}
	}
	if o.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	return &http.Client{Transport: transport}
}

// Redact drops userinfo, query and fragment from u. Installer URLs are often
// pre-signed, and the signature lives in the query string.
func Redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// RedactString is Redact for a raw URL. Unparseable input is fully hidden.
func RedactString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<redacted>"
	}
	return Redact(u)
}
