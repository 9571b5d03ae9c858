package fetcher

import (
	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent downloads to the same destination.
type Group struct {
	g singleflight.Group
}

func (g *Group) Do(key string, fn func() (Result, error)) (Result, error, bool) {
	v, err, shared := g.g.Do(key, func() (interface{}, error) {
		return fn()
	})
	res, _ := v.(Result)
	return res, err, shared
}
