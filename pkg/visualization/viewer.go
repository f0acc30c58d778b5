package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"pixfeatstack/internal/models"
)

// Viewer gives access to the channels of a computed feature stack as images
// and to per-pixel feature vectors.
type Viewer struct {
	// stack holds the assembled feature channels
	stack *models.Stack
}

// NewViewer creates a viewer over an assembled stack
func NewViewer(s *models.Stack) *Viewer {
	return &Viewer{stack: s}
}

// ExtractChannel renders one channel as a 16-bit image. Each channel is
// min-max normalised over its finite samples so low-amplitude features stay
// visible; a flat channel renders black. NaN and -Inf render black, +Inf
// renders white.
func (v *Viewer) ExtractChannel(channel int) (*image.Gray16, error) {
	s := v.stack
	if channel < 0 || channel >= s.Channels {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", channel, s.Channels)
	}

	plane := s.Channel(channel)
	if len(plane) == 0 {
		return nil, fmt.Errorf("stack has no pixels")
	}
	finite := make([]float64, 0, len(plane))
	for _, p := range plane {
		if f := float64(p); !math.IsNaN(f) && !math.IsInf(f, 0) {
			finite = append(finite, f)
		}
	}

	lo, hi, scale := 0.0, 0.0, 0.0
	if len(finite) > 0 {
		lo, hi = floats.Min(finite), floats.Max(finite)
	}
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: normalise(float64(plane[y*s.Width+x]), lo, scale)})
		}
	}

	return img, nil
}

func normalise(value, lo, scale float64) uint16 {
	switch {
	case math.IsNaN(value) || math.IsInf(value, -1):
		return 0
	case math.IsInf(value, 1):
		return 65535
	}
	return uint16(math.Min((value-lo)*scale+0.5, 65535))
}

// FeatureVector returns the values of every channel at (x, y)
func (v *Viewer) FeatureVector(x, y int) ([]float32, error) {
	s := v.stack
	if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return nil, fmt.Errorf("pixel (%d,%d) outside %dx%d stack", x, y, s.Width, s.Height)
	}

	vec := make([]float32, s.Channels)
	for c := range vec {
		vec[c] = s.At(x, y, c)
	}
	return vec, nil
}

// ExtractRegion extracts a block of channels over a rectangular window
func (v *Viewer) ExtractRegion(startX, startY, startC, sizeX, sizeY, sizeC int) ([]float32, error) {
	s := v.stack
	if startX < 0 || startY < 0 || startC < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeC <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > s.Width || startY+sizeY > s.Height || startC+sizeC > s.Channels {
		return nil, fmt.Errorf("region extends beyond stack boundaries")
	}

	region := make([]float32, sizeX*sizeY*sizeC)
	for c := 0; c < sizeC; c++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region[c*sizeX*sizeY+y*sizeX+x] = s.At(startX+x, startY+y, startC+c)
			}
		}
	}

	return region, nil
}

// SaveChannel saves an extracted channel as a PNG image
func (v *Viewer) SaveChannel(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveChannels writes every channel to outputDir and returns the file names
// in channel order
func (v *Viewer) SaveChannels(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	labels := v.channelLabels()
	files := make([]string, 0, v.stack.Channels)
	for c := 0; c < v.stack.Channels; c++ {
		img, err := v.ExtractChannel(c)
		if err != nil {
			return nil, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("channel_%03d%s.png", c, labels[c]))
		if err := v.SaveChannel(img, filename); err != nil {
			return nil, err
		}
		files = append(files, filename)
	}

	return files, nil
}

// channelLabels builds a filename suffix per channel, e.g. "_gaussian_blur_1"
// for the second channel of a Gaussian blur contributor
func (v *Viewer) channelLabels() []string {
	labels := make([]string, v.stack.Channels)
	for _, r := range v.stack.Ranges {
		if r.Label == "" {
			continue
		}
		base := "_" + strings.ToLower(strings.ReplaceAll(r.Label, " ", "_"))
		for c := r.Start; c < r.End && c < len(labels); c++ {
			if r.End-r.Start > 1 {
				labels[c] = fmt.Sprintf("%s_%d", base, c-r.Start)
			} else {
				labels[c] = base
			}
		}
	}
	return labels
}
