package terrain

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/airbusgeo/terrainfetch/internal/log"
)

// Reporter receives unrecoverable failures the user can act upon
// (malformed bounding box, oversized request...)
type Reporter interface {
	ReportError(message string)
}

// LogReporter reports errors in the log
type LogReporter struct {
	Ctx context.Context
}

func (r LogReporter) ReportError(message string) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	log.Logger(ctx).Error(message)
}

// WriterReporter prints errors on a writer (e.g. os.Stderr)
type WriterReporter struct {
	mu sync.Mutex
	W  io.Writer
}

func (r *WriterReporter) ReportError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.W, "error: "+message)
}

// Report sends err to reporter if err is not nil and returns it unchanged
func Report(reporter Reporter, err error) error {
	if err != nil && reporter != nil {
		if ferr, ok := AsError(err); ok {
			reporter.ReportError(ferr.Desc())
		} else {
			reporter.ReportError(err.Error())
		}
	}
	return err
}
