package features

import (
	"context"
	"errors"
	"fmt"

	"pixfeatstack/internal/models"
)

// Evaluator computes one feature over an input volume. Implementations wrap
// an external filter library and must not modify input; the same input is
// shared by concurrent calls.
type Evaluator interface {
	Evaluate(ctx context.Context, input *models.Volume, req Request) (*models.MultiChannelVolume, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface
type EvaluatorFunc func(ctx context.Context, input *models.Volume, req Request) (*models.MultiChannelVolume, error)

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(ctx context.Context, input *models.Volume, req Request) (*models.MultiChannelVolume, error) {
	return f(ctx, input, req)
}

// ErrUnsupportedFeature is returned by a Registry for kinds with no binding
var ErrUnsupportedFeature = errors.New("feature not supported by evaluator")

// Binding computes a single kind. It receives the request's parameters with
// defaults already applied through Params.Get.
type Binding func(ctx context.Context, input *models.Volume, params Params) (*models.MultiChannelVolume, error)

// Registry dispatches requests to one Binding per kind through a lookup
// table. The zero value has no bindings.
type Registry struct {
	bindings [kindCount]Binding
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind registers fn for kind, replacing any previous binding
func (r *Registry) Bind(kind Kind, fn Binding) error {
	if !kind.Valid() {
		return &UnknownFeatureError{Name: kind.String()}
	}
	if fn == nil {
		return fmt.Errorf("nil binding for %s", kind)
	}
	r.bindings[kind] = fn
	return nil
}

// Supports reports whether kind has a binding
func (r *Registry) Supports(kind Kind) bool {
	return kind.Valid() && r.bindings[kind] != nil
}

// Supported lists the bound kinds in canonical order
func (r *Registry) Supported() []Kind {
	var kinds []Kind
	for k := Kind(0); k < kindCount; k++ {
		if r.bindings[k] != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Evaluate implements Evaluator
func (r *Registry) Evaluate(ctx context.Context, input *models.Volume, req Request) (*models.MultiChannelVolume, error) {
	if !r.Supports(req.Kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFeature, req.Kind)
	}
	return r.bindings[req.Kind](ctx, input, req.Params)
}
