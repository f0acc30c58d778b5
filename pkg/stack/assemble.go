// Package stack concatenates per-feature volumes into a single stack along a
// trailing feature axis.
package stack

import (
	"errors"
	"fmt"

	"pixfeatstack/internal/models"
)

// DefaultAxisLabel names the feature axis when no label is configured
const DefaultAxisLabel = "F"

var (
	// ErrShapeMismatch is returned when contributors disagree on spatial extent
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidVolume is returned for a contributor whose data does not
	// match its declared shape
	ErrInvalidVolume = errors.New("invalid volume")
)

// Extent is a spatial size in pixels
type Extent struct {
	Width  int
	Height int
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// ShapeMismatchError reports the first contributor whose extent differs
type ShapeMismatchError struct {
	Index int
	Want  Extent
	Got   Extent
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("volume %d has extent %s, want %s", e.Index, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// Assemble concatenates volumes in order. The extent is taken from the first
// volume; every other volume must match it exactly. An empty list yields an
// empty stack.
func Assemble(volumes []*models.MultiChannelVolume) (*models.Stack, error) {
	if len(volumes) == 0 {
		return &models.Stack{AxisLabel: DefaultAxisLabel, Data: []float32{}}, nil
	}
	if volumes[0] == nil {
		return nil, fmt.Errorf("%w: volume 0 is nil", ErrInvalidVolume)
	}
	return AssembleFor(volumes[0].Width, volumes[0].Height, volumes)
}

// AssembleFor concatenates volumes that must all have the given extent.
// Contributor i occupies channels [sum(ch[0..i)), sum(ch[0..i+1))) and its
// samples are narrowed to float32.
func AssembleFor(width, height int, volumes []*models.MultiChannelVolume) (*models.Stack, error) {
	want := Extent{Width: width, Height: height}
	plane := width * height

	total := 0
	for i, v := range volumes {
		if v == nil {
			return nil, fmt.Errorf("%w: volume %d is nil", ErrInvalidVolume, i)
		}
		if got := (Extent{Width: v.Width, Height: v.Height}); got != want {
			return nil, &ShapeMismatchError{Index: i, Want: want, Got: got}
		}
		if v.Channels < 1 {
			return nil, fmt.Errorf("%w: volume %d has %d channels", ErrInvalidVolume, i, v.Channels)
		}
		if len(v.Data) != plane*v.Channels {
			return nil, fmt.Errorf("%w: volume %d holds %d samples, want %d", ErrInvalidVolume, i, len(v.Data), plane*v.Channels)
		}
		total += v.Channels
	}

	out := &models.Stack{
		Data:      make([]float32, plane*total),
		Width:     width,
		Height:    height,
		Channels:  total,
		AxisLabel: DefaultAxisLabel,
		Ranges:    make([]models.ChannelRange, len(volumes)),
	}

	offset := 0
	for i, v := range volumes {
		dst := out.Data[offset*plane : (offset+v.Channels)*plane]
		for j, s := range v.Data {
			dst[j] = float32(s)
		}
		out.Ranges[i] = models.ChannelRange{Start: offset, End: offset + v.Channels}
		offset += v.Channels
	}

	return out, nil
}
