package fetch

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"
)

// forEachIndex runs f(0..n-1) on at most NumCPU goroutines. The first error cancels the others
func forEachIndex(ctx context.Context, n int, f func(ctx context.Context, i int) error) error {
	p := pool.New().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU()).WithCancelOnError().WithFirstError()
	for i := 0; i < n; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			return f(ctx, i)
		})
	}
	return p.Wait()
}

// mapFiles returns f(file) for each file, in order
func mapFiles(ctx context.Context, files []string, f func(ctx context.Context, file string) (string, error)) ([]string, error) {
	res := make([]string, len(files))
	err := forEachIndex(ctx, len(files), func(ctx context.Context, i int) error {
		var err error
		res[i], err = f(ctx, files[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
