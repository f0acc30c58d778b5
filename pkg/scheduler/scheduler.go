// Package scheduler runs one feature evaluation per request on a bounded
// worker pool and joins the results back into request order.
//
// Every call to Run owns its pool. Workers are started after the first
// cancellation checkpoint and are always stopped before Run returns, whether
// the batch succeeded, failed or was cancelled. A failed or cancelled batch
// returns no results at all.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"pixfeatstack/internal/models"
	"pixfeatstack/pkg/features"
)

var (
	// ErrCancelled marks a batch that was aborted through its context
	ErrCancelled = errors.New("feature computation cancelled")

	// ErrEvaluationFailed marks a batch in which one evaluation failed
	ErrEvaluationFailed = errors.New("feature evaluation failed")

	errNilVolume = errors.New("evaluator returned no volume")
)

// EvaluationError identifies the request whose evaluation failed
type EvaluationError struct {
	Index int
	Kind  features.Kind
	Cause error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("feature %d (%s) failed: %v", e.Index, e.Kind, e.Cause)
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluationFailed
}

type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.cause)
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.cause
}

func cancelled(ctx context.Context) error {
	return &cancelledError{cause: context.Cause(ctx)}
}

// IsCancelled reports whether err is a cancellation outcome rather than a
// failure
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Mode selects sequential or pooled execution
type Mode struct {
	workers int
}

// Sequential runs every request in the calling goroutine, in order
func Sequential() Mode {
	return Mode{workers: 1}
}

// Parallel runs requests on up to maxWorkers goroutines. maxWorkers <= 0
// uses runtime.NumCPU().
func Parallel(maxWorkers int) Mode {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	return Mode{workers: maxWorkers}
}

// Workers returns the pool bound. The zero Mode behaves like Parallel(0).
func (m Mode) Workers() int {
	if m.workers <= 0 {
		return runtime.NumCPU()
	}
	return m.workers
}

// IsSequential reports whether the mode runs without a pool
func (m Mode) IsSequential() bool {
	return m.Workers() == 1
}

func (m Mode) String() string {
	if m.IsSequential() {
		return "sequential"
	}
	return fmt.Sprintf("parallel(%d)", m.Workers())
}

// ProgressFunc is called after each result is accepted. It runs on the
// goroutine that called Run.
type ProgressFunc func(completed, total int, kind features.Kind)

// Options configures a Run
type Options struct {
	Mode     Mode
	Progress ProgressFunc
}

type taskResult struct {
	index  int
	volume *models.MultiChannelVolume
	err    error
}

// Run evaluates every request against input and returns the volumes in
// request order. ctx is the cancellation signal; it is checked before any
// work starts and before each result is consumed, and it is passed to the
// evaluator.
//
// On failure or cancellation Run stops consuming results and cancels the
// context handed to in-flight evaluations, then waits for those calls to
// return before it does. An evaluator that ignores its context therefore
// delays the outcome until its current call finishes; no worker outlives
// Run.
//
// Errors match ErrCancelled or ErrEvaluationFailed (an *EvaluationError).
func Run(ctx context.Context, input *models.Volume, requests []features.Request, evaluator features.Evaluator, opts Options) ([]*models.MultiChannelVolume, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	if len(requests) == 0 {
		return []*models.MultiChannelVolume{}, nil
	}

	workers := opts.Mode.Workers()
	if workers > len(requests) {
		workers = len(requests)
	}
	if workers == 1 {
		return runSequential(ctx, input, requests, evaluator, opts.Progress)
	}
	return runParallel(ctx, input, requests, evaluator, workers, opts.Progress)
}

func runSequential(ctx context.Context, input *models.Volume, requests []features.Request, evaluator features.Evaluator, progress ProgressFunc) ([]*models.MultiChannelVolume, error) {
	results := make([]*models.MultiChannelVolume, len(requests))
	for i, req := range requests {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		res := evaluate(ctx, input, i, req, evaluator)
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if res.err != nil {
			return nil, failure(ctx, req, res)
		}
		results[i] = res.volume

		if progress != nil {
			progress(i+1, len(requests), req.Kind)
		}
	}
	return results, nil
}

func runParallel(ctx context.Context, input *models.Volume, requests []features.Request, evaluator features.Evaluator, workers int, progress ProgressFunc) ([]*models.MultiChannelVolume, error) {
	poolCtx, stop := context.WithCancel(ctx)

	jobs := make(chan int)
	// Buffered to len(requests) so a worker never blocks on send once the
	// joiner has stopped reading.
	resultChan := make(chan taskResult, len(requests))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if poolCtx.Err() != nil {
					return
				}
				resultChan <- evaluate(poolCtx, input, i, requests[i], evaluator)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i := range requests {
			select {
			case jobs <- i:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	// Tear the pool down on every exit path before returning.
	defer func() {
		stop()
		wg.Wait()
	}()

	results := make([]*models.MultiChannelVolume, len(requests))
	for completed := 0; completed < len(requests); {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		select {
		case <-ctx.Done():
			return nil, cancelled(ctx)
		case res := <-resultChan:
			if ctx.Err() != nil {
				return nil, cancelled(ctx)
			}
			if res.err != nil {
				return nil, failure(ctx, requests[res.index], res)
			}
			results[res.index] = res.volume
			completed++

			if progress != nil {
				progress(completed, len(requests), requests[res.index].Kind)
			}
		}
	}
	return results, nil
}

// evaluate runs one task, converting panics and nil volumes into errors
func evaluate(ctx context.Context, input *models.Volume, index int, req features.Request, evaluator features.Evaluator) (res taskResult) {
	res.index = index
	defer func() {
		if r := recover(); r != nil {
			res.volume = nil
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()

	vol, err := evaluator.Evaluate(ctx, input, req)
	if err == nil && vol == nil {
		err = errNilVolume
	}
	res.volume = vol
	res.err = err
	return res
}

func failure(ctx context.Context, req features.Request, res taskResult) error {
	// An evaluator that gave up because the caller cancelled is not a
	// feature failure.
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	return &EvaluationError{Index: res.index, Kind: req.Kind, Cause: res.err}
}
