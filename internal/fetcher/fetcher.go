package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"cimatrix/internal/ctxlog"
	"cimatrix/internal/resolver"
	"cimatrix/internal/transport"
)

// Result describes one installer that is present at its destination.
type Result struct {
	Installer string        `json:"installer"`
	Dest      string        `json:"dest"`
	Bytes     int64         `json:"bytes"`
	Cached    bool          `json:"cached,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// FetchError reports a failed download of a required installer.
type FetchError struct {
	Installer string
	// URL is redacted; the query string of pre-signed URLs is never included.
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %q from %s: HTTP %d %s", e.Installer, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("download %q from %s: %v", e.Installer, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Fetcher struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	cache       *Cache
	group       Group
}

type Option func(*Fetcher)

// WithConcurrency bounds simultaneous downloads in FetchAll.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

// WithTimeout bounds each download. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithCache enables or disables skipping downloads already on disk.
func WithCache(enabled bool) Option {
	return func(f *Fetcher) {
		if enabled {
			f.cache = NewCache()
		} else {
			f.cache = nil
		}
	}
}

func NewFetcher(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = transport.NewHTTPClient(transport.WithLabel("download"))
	}
	f := &Fetcher{
		client:      client,
		concurrency: 4,
		cache:       NewCache(),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(f)
		}
	}
	if f.concurrency <= 0 {
		f.concurrency = 1
	}
	return f
}

// FetchAll downloads every binding, at most concurrency at a time. It returns
// only after all downloads have finished; the first failure cancels the rest
// and is returned. Results are in binding order.
func (f *Fetcher) FetchAll(ctx context.Context, bindings []resolver.Binding) ([]Result, error) {
	if ctx == nil {
		return nil, errors.New("FetchAll: nil context")
	}
	if f == nil {
		return nil, errors.New("FetchAll: nil Fetcher")
	}

	dests := make(map[string]string, len(bindings))
	for _, b := range bindings {
		clean := filepath.Clean(b.Dest)
		if other, dup := dests[clean]; dup {
			return nil, fmt.Errorf("installers %q and %q share the destination %s", other, b.Installer.Name, b.Dest)
		}
		dests[clean] = b.Installer.Name
	}

	results := make([]Result, len(bindings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, b := range bindings {
		g.Go(func() error {
			res, err := f.Fetch(gctx, b)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch makes sure the binding's artifact is at its destination. When the
// cache holds a record for the same URL, the server is asked whether that
// version is still current and the download is skipped only if it is.
func (f *Fetcher) Fetch(ctx context.Context, b resolver.Binding) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("Fetch: nil context")
	}
	if b.URL == "" {
		return Result{}, fmt.Errorf("Fetch: installer %q has no URL", b.Installer.Name)
	}
	if b.Dest == "" {
		return Result{}, fmt.Errorf("Fetch: installer %q has no destination", b.Installer.Name)
	}

	res, err, _ := f.group.Do(filepath.Clean(b.Dest), func() (Result, error) {
		return f.fetchOnce(ctx, b)
	})
	return res, err
}

func (f *Fetcher) fetchOnce(ctx context.Context, b resolver.Binding) (Result, error) {
	log := ctxlog.FromContext(ctx).With("installer", b.Installer.Name, "dest", b.Dest)
	start := time.Now()

	var (
		cond       Validators
		cachedSize int64
		revalidate bool
	)
	if f.cache != nil {
		cond, cachedSize, revalidate = f.cache.Get(b.Dest, b.URL)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if revalidate {
		log.Info("revalidating installer", "url", transport.RedactString(b.URL))
	} else {
		log.Info("downloading installer", "url", transport.RedactString(b.URL))
		cond = Validators{}
	}
	dl, err := f.download(ctx, b, cond)
	if err != nil {
		return Result{}, err
	}
	dur := time.Since(start)

	if dl.notModified {
		log.Info("installer is up to date, skipping download", "bytes", cachedSize)
		return Result{Installer: b.Installer.Name, Dest: b.Dest, Bytes: cachedSize, Cached: true, Duration: dur}, nil
	}

	if f.cache != nil {
		if err := f.cache.Set(b.Dest, b.URL, dl.size, dl.validators); err != nil {
			// The artifact is in place; only the next run's revalidation is lost.
			log.Warn("could not record download", "error", err)
		}
	}

	log.Info("downloaded installer", "bytes", dl.size, "duration", dur.Truncate(time.Millisecond))
	return Result{Installer: b.Installer.Name, Dest: b.Dest, Bytes: dl.size, Duration: dur}, nil
}

type transfer struct {
	size        int64
	notModified bool
	validators  Validators
}

// download GETs the artifact into place. A non-empty cond makes the request
// conditional; a 304 answer then leaves the destination untouched.
func (f *Fetcher) download(ctx context.Context, b resolver.Binding, cond Validators) (transfer, error) {
	redacted := transport.RedactString(b.URL)
	fail := func(err error) (transfer, error) {
		return transfer{}, &FetchError{Installer: b.Installer.Name, URL: redacted, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		// The underlying error quotes the URL.
		return fail(errors.New("invalid request URL"))
	}
	cond.apply(req)
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(errors.New("request failed: " + scrubURLError(err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && !cond.empty() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return transfer{notModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return transfer{}, &FetchError{Installer: b.Installer.Name, URL: redacted, StatusCode: resp.StatusCode}
	}

	dir := filepath.Dir(b.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(fmt.Errorf("create destination directory: %w", err))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Dest)+".*.part")
	if err != nil {
		return fail(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(fmt.Errorf("read body: %w", copyErr))
	}
	if closeErr != nil {
		return fail(fmt.Errorf("write %s: %w", b.Dest, closeErr))
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fail(fmt.Errorf("downloaded %d bytes, expected %d bytes", n, resp.ContentLength))
	}
	// Installers are shell scripts run by the cluster setup.
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return fail(fmt.Errorf("chmod %s: %w", tmpName, err))
	}
	if err := removeRecord(b.Dest); err != nil {
		return fail(fmt.Errorf("drop cache record: %w", err))
	}
	if err := os.Rename(tmpName, b.Dest); err != nil {
		return fail(fmt.Errorf("move into place: %w", err))
	}
	committed = true
	return transfer{size: n, validators: validatorsFrom(resp.Header)}, nil
}

// scrubURLError drops the *url.Error wrapper, which quotes the full URL.
func scrubURLError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}
