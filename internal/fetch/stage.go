// Package fetch composes the stages that acquire and transform terrain rasters
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airbusgeo/terrainfetch/internal/concurrency"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"go.uber.org/zap"
)

var ErrStageFailed = errors.New("stage failed")

// Stage takes input files in a CRS and produces output files in a CRS.
// On success, the outputs are set before onComplete(true) is called.
// On failure, onComplete(false) is called and the outputs are unspecified.
type Stage interface {
	Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done)
	OutputCRS() string
	OutputFiles() []string
}

// Named is implemented by stages with a name
type Named interface {
	Name() string
}

// Name returns the name of the stage
func Name(s Stage) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Output holds the outputs of a stage
type Output struct {
	CRS   string
	Files []string
}

func (o *Output) OutputCRS() string     { return o.CRS }
func (o *Output) OutputFiles() []string { return o.Files }

func (o *Output) set(crs string, files []string) {
	o.CRS, o.Files = crs, files
}

// Result is the output of a stage run with Run
type Result struct {
	CRS   string
	Files []string
}

// Run runs the stage and waits for its completion
func Run(ctx context.Context, stage Stage, crs string, files []string) (Result, error) {
	ok, err := concurrency.AndWait(ctx, 0, func(done concurrency.Done) {
		stage.Fetch(ctx, crs, files, done)
	})
	if err != nil {
		return Result{}, fmt.Errorf("Run(%s): %w", Name(stage), err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrStageFailed, Name(stage))
	}
	return Result{CRS: stage.OutputCRS(), Files: stage.OutputFiles()}, nil
}

type sequence struct {
	Output
	first, second Stage
}

// AndThen runs first, then second on the outputs of first.
// The CRS is the one of second, or the one of first if second does not set it
func AndThen(first, second Stage) Stage {
	return &sequence{first: first, second: second}
}

// Chain folds AndThen over stages, from left to right
func Chain(stages ...Stage) Stage {
	if len(stages) == 0 {
		return Passthrough()
	}
	s := stages[0]
	for _, next := range stages[1:] {
		s = AndThen(s, next)
	}
	return s
}

func (s *sequence) Name() string {
	return Name(s.first) + "+" + Name(s.second)
}

func (s *sequence) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	onComplete = concurrency.OnceDone(onComplete)
	s.first.Fetch(ctx, crs, files, func(ok bool) {
		if !ok {
			onComplete(false)
			return
		}
		firstCRS := s.first.OutputCRS()
		s.second.Fetch(ctx, firstCRS, s.first.OutputFiles(), func(ok bool) {
			if !ok {
				onComplete(false)
				return
			}
			outCRS := s.second.OutputCRS()
			if outCRS == "" {
				outCRS = firstCRS
			}
			s.set(outCRS, s.second.OutputFiles())
			onComplete(true)
		})
	})
}

type postProcess struct {
	Output
	stage Stage
	fn    func(*Output) bool
}

// AndRun runs stage, then fn on a copy of its outputs. fn may change the outputs.
// The stage succeeds if fn returns true
func AndRun(stage Stage, fn func(*Output) bool) Stage {
	return &postProcess{stage: stage, fn: fn}
}

func (p *postProcess) Name() string { return Name(p.stage) }

func (p *postProcess) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	onComplete = concurrency.OnceDone(onComplete)
	p.stage.Fetch(ctx, crs, files, func(ok bool) {
		if !ok {
			onComplete(false)
			return
		}
		p.set(p.stage.OutputCRS(), append([]string(nil), p.stage.OutputFiles()...))
		onComplete(p.fn(&p.Output))
	})
}

type debug struct {
	Output
	stage      Stage
	name       string
	allowEmpty bool
}

// Debug logs the boundaries of stage. Unless allowEmpty, it fails without running stage if there is no input file
func Debug(stage Stage, name string, allowEmpty bool) Stage {
	return &debug{stage: stage, name: name, allowEmpty: allowEmpty}
}

func (d *debug) Name() string { return d.name }

func (d *debug) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	ctx = log.WithStage(ctx, d.name)
	logger := log.Logger(ctx)
	if len(files) == 0 && !d.allowEmpty {
		logger.Error("no input file")
		onComplete(false)
		return
	}
	logger.Info("stage started", zap.String("crs", crs), zap.Int("inputs", len(files)))
	start := time.Now()
	onComplete = concurrency.OnceDone(onComplete)
	d.stage.Fetch(ctx, crs, files, func(ok bool) {
		if !ok {
			logger.Error("stage failed", zap.Duration("elapsed", time.Since(start)))
			onComplete(false)
			return
		}
		d.set(d.stage.OutputCRS(), d.stage.OutputFiles())
		logger.Info("stage done",
			zap.String("crs", d.CRS),
			zap.Int("outputs", len(d.Files)),
			zap.Duration("elapsed", time.Since(start)))
		onComplete(true)
	})
}

// funcStage runs a synchronous function in its own goroutine
type funcStage struct {
	Output
	name string
	fn   func(ctx context.Context, crs string, files []string) (string, []string, error)
}

// Func creates a stage running fn in a new goroutine. An error is logged and fails the stage
func Func(name string, fn func(ctx context.Context, crs string, files []string) (string, []string, error)) Stage {
	return &funcStage{name: name, fn: fn}
}

func (f *funcStage) Name() string { return f.name }

func (f *funcStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	go func() {
		outCRS, outFiles, err := f.fn(ctx, crs, files)
		if err != nil {
			log.Logger(ctx).Error(f.name+" failed", zap.Error(err))
			onComplete(false)
			return
		}
		f.set(outCRS, outFiles)
		onComplete(true)
	}()
}

// Passthrough outputs its inputs
func Passthrough() Stage {
	return Func("Passthrough", func(_ context.Context, crs string, files []string) (string, []string, error) {
		return crs, files, nil
	})
}
