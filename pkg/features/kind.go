// Package features describes the pixel features a stack can be built from:
// the closed set of feature kinds, their parameters and defaults, and the
// evaluator contract that external filter libraries implement.
package features

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one pixel feature
type Kind int

const (
	Bilateral Kind = iota
	DifferenceOfGaussian
	Entropy
	GaussianBlur
	GaussianGradientMagnitude
	Hessian
	Kuwahara
	LaplacianOfGaussian
	MembraneProjections
	Max
	Mean
	Median
	Min
	Neighbors
	Sobel
	StructureTensorEigenvalues
	Variance

	kindCount
)

// ErrUnknownFeature is returned when a name does not resolve to a Kind
var ErrUnknownFeature = errors.New("unknown feature")

// UnknownFeatureError carries the name that failed to resolve
type UnknownFeatureError struct {
	Name string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Name)
}

func (e *UnknownFeatureError) Is(target error) bool {
	return target == ErrUnknownFeature
}

type kindInfo struct {
	display string
	ident   string
}

var kindTable = [kindCount]kindInfo{
	Bilateral:                  {"Bilateral", "Bilateral"},
	DifferenceOfGaussian:       {"Difference of Gaussians", "DifferenceOfGaussian"},
	Entropy:                    {"Entropy", "Entropy"},
	GaussianBlur:               {"Gaussian blur", "GaussianBlur"},
	GaussianGradientMagnitude:  {"Gaussian gradient magnitude", "GaussianGradientMagnitude"},
	Hessian:                    {"Hessian", "Hessian"},
	Kuwahara:                   {"Kuwahara", "Kuwahara"},
	LaplacianOfGaussian:        {"Laplacian of Gaussian", "LaplacianOfGaussian"},
	MembraneProjections:        {"Membrane Projections", "MembraneProjections"},
	Max:                        {"Max", "Max"},
	Mean:                       {"Mean", "Mean"},
	Median:                     {"Median", "Median"},
	Min:                        {"Min", "Min"},
	Neighbors:                  {"Neighbors", "Neighbors"},
	Sobel:                      {"Sobel", "Sobel"},
	StructureTensorEigenvalues: {"Structure Tensor Eigenvalues", "StructureTensorEigenvalues"},
	Variance:                   {"Variance", "Variance"},
}

// aliases maps additional lower-cased spellings onto kinds. "kuwahra" is the
// spelling older saved configurations carry.
var aliases = map[string]Kind{
	"kuwahra":                 Kuwahara,
	"difference of gaussian":  DifferenceOfGaussian,
	"difference_of_gaussians": DifferenceOfGaussian,
	"gaussian_blur":           GaussianBlur,
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, 2*int(kindCount)+len(aliases))
	for k := Kind(0); k < kindCount; k++ {
		m[strings.ToLower(kindTable[k].display)] = k
		m[strings.ToLower(kindTable[k].ident)] = k
	}
	for name, k := range aliases {
		m[name] = k
	}
	return m
}()

// String returns the canonical display name
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindTable[k].display
}

// Ident returns the identifier form of the name, e.g. "GaussianBlur"
func (k Kind) Ident() string {
	if !k.Valid() {
		return k.String()
	}
	return kindTable[k].ident
}

// Valid reports whether k is one of the declared kinds
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

// FromString resolves a feature name case-insensitively. Both the display
// name ("Gaussian blur") and the identifier form ("GaussianBlur") are
// accepted. There is no fallback: unknown names yield an *UnknownFeatureError.
func FromString(name string) (Kind, error) {
	if k, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return 0, &UnknownFeatureError{Name: name}
}

// All returns every kind in canonical order
func All() []Kind {
	kinds := make([]Kind, kindCount)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Available returns the display names of every kind in canonical order
func Available() []string {
	names := make([]string, kindCount)
	for i := range names {
		names[i] = kindTable[i].display
	}
	return names
}

// DefaultSelection is the historical five-feature default. It names kinds
// regardless of whether an evaluator can compute them; hosts pick their
// default with SelectionFor.
func DefaultSelection() []string {
	return Available()[:5]
}

// SelectionFor returns the display names of the first n kinds, in canonical
// order, that supports accepts
func SelectionFor(supports func(Kind) bool, n int) []string {
	names := make([]string, 0, n)
	for k := Kind(0); k < kindCount && len(names) < n; k++ {
		if supports(k) {
			names = append(names, k.String())
		}
	}
	return names
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
