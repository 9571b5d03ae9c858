package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v81/github"

	"cimatrix/internal/transport"
)

type Client struct {
	Client *github.Client
	HTTP   *http.Client
}

type options struct {
	verbose bool
	writer  io.Writer
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	tc := transport.NewHTTPClient(
		transport.WithLabel("github api"),
		transport.WithVerbose(o.verbose, o.writer),
		transport.WithToken(token),
	)

	return &Client{
		Client: github.NewClient(tc),
		HTTP:   tc,
	}, nil
}

// FetchFile returns the content of path in owner/repo at ref. An empty ref
// reads the default branch.
func (c *Client) FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	if c == nil || c.Client == nil {
		return nil, errors.New("github client is nil (use NewClient)")
	}
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, dir, _, err := c.Client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("get %s from %s/%s: %w", path, owner, repo, err)
	}
	if file == nil {
		if dir != nil {
			return nil, fmt.Errorf("%s in %s/%s is a directory", path, owner, repo)
		}
		return nil, fmt.Errorf("%s not found in %s/%s", path, owner, repo)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []byte(content), nil
}
