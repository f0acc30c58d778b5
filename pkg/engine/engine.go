// Package engine computes a feature stack for a 2D image: it schedules one
// evaluation per requested feature and assembles the results, in request
// order, into a single multi-channel stack.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pixfeatstack/internal/logger"
	"pixfeatstack/internal/models"
	"pixfeatstack/pkg/features"
	"pixfeatstack/pkg/scheduler"
	"pixfeatstack/pkg/stack"
)

// ErrInvalidInput is returned for an input that is not a well-formed 2D volume
var ErrInvalidInput = errors.New("invalid input volume")

// Engine holds the evaluator and execution settings shared by every
// computation. An Engine is safe for concurrent use; each Compute call owns
// its own worker pool.
type Engine struct {
	evaluator features.Evaluator
	mode      scheduler.Mode
	axisLabel string
	progress  scheduler.ProgressFunc
	log       zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithMode sets sequential or parallel execution
func WithMode(mode scheduler.Mode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithAxisLabel names the feature axis of produced stacks
func WithAxisLabel(label string) Option {
	return func(e *Engine) {
		if label != "" {
			e.axisLabel = label
		}
	}
}

// WithProgress installs a per-feature progress callback
func WithProgress(fn scheduler.ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger.Component(l, "engine") }
}

// New creates an engine that evaluates features with evaluator
func New(evaluator features.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		evaluator: evaluator,
		mode:      scheduler.Parallel(0),
		axisLabel: stack.DefaultAxisLabel,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the configured execution mode
func (e *Engine) Mode() scheduler.Mode {
	return e.mode
}

// Compute evaluates requests over input and returns the assembled stack.
// Channel order follows request order. On failure or cancellation no stack
// is returned; see scheduler.ErrCancelled, scheduler.ErrEvaluationFailed and
// stack.ErrShapeMismatch.
func (e *Engine) Compute(ctx context.Context, input *models.Volume, requests []features.Request) (*models.Stack, error) {
	if e.evaluator == nil {
		return nil, errors.New("engine has no evaluator")
	}
	if !input.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describe(input))
	}

	log := e.log.With().Str("run_id", uuid.NewString()).Logger()
	start := time.Now()
	log.Info().
		Int("features", len(requests)).
		Int("width", input.Width).
		Int("height", input.Height).
		Stringer("mode", e.mode).
		Msg("feature stack started")

	progress := func(completed, total int, kind features.Kind) {
		log.Debug().
			Str("feature", kind.String()).
			Int("completed", completed).
			Int("total", total).
			Msg("feature computed")
		if e.progress != nil {
			e.progress(completed, total, kind)
		}
	}

	volumes, err := scheduler.Run(ctx, input, requests, e.evaluator, scheduler.Options{Mode: e.mode, Progress: progress})
	if err != nil {
		var evalErr *scheduler.EvaluationError
		switch {
		case scheduler.IsCancelled(err):
			log.Warn().Dur("elapsed", time.Since(start)).Msg("feature stack cancelled")
		case errors.As(err, &evalErr):
			log.Error().
				Err(evalErr.Cause).
				Str("feature", evalErr.Kind.String()).
				Int("index", evalErr.Index).
				Msg("feature evaluation failed")
		default:
			log.Error().Err(err).Msg("feature stack failed")
		}
		return nil, err
	}

	out, err := stack.AssembleFor(input.Width, input.Height, volumes)
	if err != nil {
		var mismatch *stack.ShapeMismatchError
		if errors.As(err, &mismatch) {
			err = fmt.Errorf("%s: %w", requests[mismatch.Index].Kind, err)
		}
		log.Error().Err(err).Msg("feature stack assembly failed")
		return nil, err
	}

	out.AxisLabel = e.axisLabel
	for i := range out.Ranges {
		out.Ranges[i].Label = requests[i].Kind.String()
	}

	log.Info().
		Int("channels", out.Channels).
		Dur("elapsed", time.Since(start)).
		Msg("feature stack finished")
	return out, nil
}

func describe(v *models.Volume) string {
	if v == nil {
		return "nil volume"
	}
	return fmt.Sprintf("%dx%d with %d samples", v.Width, v.Height, len(v.Data))
}
