package reporting

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// flight collapses concurrent builds of the same view. A caller whose ctx
// ends stops waiting; the build keeps running for the other callers.
type flight struct {
	group singleflight.Group
}

func (f *flight) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}
