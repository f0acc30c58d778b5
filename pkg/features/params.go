package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Parameter names understood by the feature kinds
const (
	ParamMinSigma          = "minSigma"
	ParamMaxSigma          = "maxSigma"
	ParamMembraneThickness = "membraneThickness"
	ParamMembranePatchSize = "membranePatchSize"
	ParamWindow            = "window"
	ParamBins              = "bins"
)

// Default parameter values
const (
	DefaultMinSigma          = 1.0
	DefaultMaxSigma          = 16.0
	DefaultMembraneThickness = 1
	DefaultMembranePatchSize = 19
	DefaultWindow            = 3
	DefaultBins              = 5
)

var (
	// ErrUnknownParameter is returned when a request names a parameter its
	// kind does not accept
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrInvalidParameter is returned for out-of-range parameter values
	ErrInvalidParameter = errors.New("invalid parameter")
)

var defaults = map[string]float64{
	ParamMinSigma:          DefaultMinSigma,
	ParamMaxSigma:          DefaultMaxSigma,
	ParamMembraneThickness: DefaultMembraneThickness,
	ParamMembranePatchSize: DefaultMembranePatchSize,
	ParamWindow:            DefaultWindow,
	ParamBins:              DefaultBins,
}

var (
	sigmaParams    = []string{ParamMinSigma, ParamMaxSigma}
	entropyParams  = []string{ParamMinSigma, ParamMaxSigma, ParamBins}
	windowParams   = []string{ParamWindow}
	membraneParams = []string{ParamMembraneThickness, ParamMembranePatchSize}
)

var applicable = [kindCount][]string{
	Bilateral:                  nil,
	DifferenceOfGaussian:       sigmaParams,
	Entropy:                    entropyParams,
	GaussianBlur:               sigmaParams,
	GaussianGradientMagnitude:  sigmaParams,
	Hessian:                    sigmaParams,
	Kuwahara:                   windowParams,
	LaplacianOfGaussian:        sigmaParams,
	MembraneProjections:        membraneParams,
	Max:                        windowParams,
	Mean:                       windowParams,
	Median:                     windowParams,
	Min:                        windowParams,
	Neighbors:                  sigmaParams,
	Sobel:                      sigmaParams,
	StructureTensorEigenvalues: sigmaParams,
	Variance:                   windowParams,
}

// Parameters returns the names of the parameters k accepts
func (k Kind) Parameters() []string {
	if !k.Valid() {
		return nil
	}
	return append([]string(nil), applicable[k]...)
}

// Accepts reports whether k takes the named parameter
func (k Kind) Accepts(name string) bool {
	if !k.Valid() {
		return false
	}
	for _, p := range applicable[k] {
		if p == name {
			return true
		}
	}
	return false
}

// Params is an immutable set of explicitly supplied parameter values.
// Lookups of parameters that were not supplied return the default.
type Params struct {
	values map[string]float64
}

// Get returns the named value or its default
func (p Params) Get(name string) float64 {
	if v, ok := p.values[name]; ok {
		return v
	}
	return defaults[name]
}

// Int returns the named value truncated to an int
func (p Params) Int(name string) int {
	return int(p.Get(name))
}

// Explicit reports whether the named value was supplied by the caller
func (p Params) Explicit(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Names returns the explicitly supplied parameter names in sorted order
func (p Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Params) String() string {
	parts := make([]string, 0, len(p.values))
	for _, name := range p.Names() {
		parts = append(parts, fmt.Sprintf("%s=%g", name, p.values[name]))
	}
	return strings.Join(parts, ",")
}

// Request is one requested feature. Build requests with NewRequest so that
// parameters are validated against the kind.
type Request struct {
	Kind   Kind
	Params Params
}

// NewRequest validates values against kind and copies them into a Request
func NewRequest(kind Kind, values map[string]float64) (Request, error) {
	if !kind.Valid() {
		return Request{}, &UnknownFeatureError{Name: kind.String()}
	}

	copied := make(map[string]float64, len(values))
	for name, v := range values {
		if !kind.Accepts(name) {
			return Request{}, fmt.Errorf("%w: %s does not take %q", ErrUnknownParameter, kind, name)
		}
		copied[name] = v
	}

	req := Request{Kind: kind, Params: Params{values: copied}}
	if err := req.validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// MustRequest is like NewRequest but panics on error. Intended for tests and
// static tables.
func MustRequest(kind Kind, values map[string]float64) Request {
	req, err := NewRequest(kind, values)
	if err != nil {
		panic(err)
	}
	return req
}

// ParseRequest resolves name with FromString and builds a Request
func ParseRequest(name string, values map[string]float64) (Request, error) {
	kind, err := FromString(name)
	if err != nil {
		return Request{}, err
	}
	return NewRequest(kind, values)
}

func (r Request) String() string {
	if len(r.Params.values) == 0 {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Params)
}

func (r Request) validate() error {
	for _, name := range applicable[r.Kind] {
		v := r.Params.Get(name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s %s is not finite", ErrInvalidParameter, r.Kind, name)
		}
		switch name {
		case ParamMinSigma, ParamMaxSigma:
			if v <= 0 {
				return fmt.Errorf("%w: %s %s must be positive, got %g", ErrInvalidParameter, r.Kind, name, v)
			}
		default:
			if v < 1 {
				return fmt.Errorf("%w: %s %s must be at least 1, got %g", ErrInvalidParameter, r.Kind, name, v)
			}
			if v != math.Trunc(v) {
				return fmt.Errorf("%w: %s %s must be a whole number, got %g", ErrInvalidParameter, r.Kind, name, v)
			}
		}
	}

	if r.Kind.Accepts(ParamMinSigma) {
		if lo, hi := r.Params.Get(ParamMinSigma), r.Params.Get(ParamMaxSigma); lo > hi {
			return fmt.Errorf("%w: %s minSigma %g exceeds maxSigma %g", ErrInvalidParameter, r.Kind, lo, hi)
		}
	}
	return nil
}

// Sigmas returns the scale series minSigma, 2*minSigma, 4*minSigma, ... up
// to and including maxSigma. Evaluators that compute one channel per scale
// use it to agree on channel count.
func (p Params) Sigmas() []float64 {
	lo, hi := p.Get(ParamMinSigma), p.Get(ParamMaxSigma)
	var sigmas []float64
	for s := lo; s <= hi; s *= 2 {
		sigmas = append(sigmas, s)
	}
	return sigmas
}

// Shared holds the user-facing settings that are shared by every selected
// feature. BuildRequests hands each kind only the settings it accepts.
type Shared struct {
	MinSigma          float64
	MaxSigma          float64
	MembraneThickness int
	MembranePatchSize int

	// Window is the neighbourhood size for the window filters. Zero derives
	// it from MaxSigma.
	Window int
}

// DefaultShared returns the shared settings with every default applied
func DefaultShared() Shared {
	return Shared{
		MinSigma:          DefaultMinSigma,
		MaxSigma:          DefaultMaxSigma,
		MembraneThickness: DefaultMembraneThickness,
		MembranePatchSize: DefaultMembranePatchSize,
	}
}

func (s Shared) value(name string) (float64, bool) {
	switch name {
	case ParamMinSigma:
		return s.MinSigma, s.MinSigma != 0
	case ParamMaxSigma:
		return s.MaxSigma, s.MaxSigma != 0
	case ParamMembraneThickness:
		return float64(s.MembraneThickness), s.MembraneThickness != 0
	case ParamMembranePatchSize:
		return float64(s.MembranePatchSize), s.MembranePatchSize != 0
	case ParamWindow:
		if s.Window != 0 {
			return float64(s.Window), true
		}
		if s.MaxSigma != 0 {
			return math.Trunc(s.MaxSigma), true
		}
	}
	return 0, false
}

// BuildRequests resolves names in order and builds one request per name
// from the shared settings. Zero-valued settings fall back to defaults.
func BuildRequests(names []string, shared Shared) ([]Request, error) {
	requests := make([]Request, 0, len(names))
	for _, name := range names {
		kind, err := FromString(name)
		if err != nil {
			return nil, err
		}

		values := make(map[string]float64)
		for _, p := range applicable[kind] {
			if v, ok := shared.value(p); ok {
				values[p] = v
			}
		}

		req, err := NewRequest(kind, values)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}
