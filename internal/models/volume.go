package models

// Volume is a single-channel 2D image that features are computed from.
// Samples are stored row-major: idx = y*Width + x.
type Volume struct {
	// Data holds Width*Height samples
	Data []float64

	// Width is the extent along X in pixels
	Width int

	// Height is the extent along Y in pixels
	Height int
}

// NewVolume allocates a zeroed Volume of the given extent
func NewVolume(width, height int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the sample at (x, y)
func (v *Volume) At(x, y int) float64 {
	return v.Data[y*v.Width+x]
}

// Set stores a sample at (x, y)
func (v *Volume) Set(x, y int, value float64) {
	v.Data[y*v.Width+x] = value
}

// Valid reports whether the extent is positive and matches the data length
func (v *Volume) Valid() bool {
	return v != nil && v.Width > 0 && v.Height > 0 && len(v.Data) == v.Width*v.Height
}

// MultiChannelVolume is the output of one feature evaluation. It shares the
// spatial extent of its input and carries one or more channel planes.
// Samples are planar: idx = c*Width*Height + y*Width + x.
type MultiChannelVolume struct {
	Data []float64

	Width    int
	Height   int
	Channels int
}

// NewMultiChannelVolume allocates a zeroed volume with the given channel count
func NewMultiChannelVolume(width, height, channels int) *MultiChannelVolume {
	return &MultiChannelVolume{
		Data:     make([]float64, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// Plane returns the samples of channel c without copying
func (m *MultiChannelVolume) Plane(c int) []float64 {
	size := m.Width * m.Height
	return m.Data[c*size : (c+1)*size]
}

// At returns the sample at (x, y) in channel c
func (m *MultiChannelVolume) At(x, y, c int) float64 {
	return m.Data[c*m.Width*m.Height+y*m.Width+x]
}

// Set stores a sample at (x, y) in channel c
func (m *MultiChannelVolume) Set(x, y, c int, value float64) {
	m.Data[c*m.Width*m.Height+y*m.Width+x] = value
}

// ChannelRange records which channels of a Stack one contributor occupies.
// The range is half-open: [Start, End).
type ChannelRange struct {
	Label string
	Start int
	End   int
}

// Stack is the concatenation of feature volumes along a trailing feature
// axis. Samples are stored as float32 in the same planar layout as
// MultiChannelVolume.
type Stack struct {
	// Data holds Width*Height*Channels samples
	Data []float32

	Width    int
	Height   int
	Channels int

	// AxisLabel names the trailing feature axis
	AxisLabel string

	// Ranges lists contributors in channel order
	Ranges []ChannelRange
}

// Channel returns the samples of channel c without copying
func (s *Stack) Channel(c int) []float32 {
	size := s.Width * s.Height
	return s.Data[c*size : (c+1)*size]
}

// At returns the sample at (x, y) in channel c
func (s *Stack) At(x, y, c int) float32 {
	return s.Data[c*s.Width*s.Height+y*s.Width+x]
}
