package visualization

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"pixfeatstack/internal/models"
)

// newTestStack builds a 4x3 stack with three channels: a ramp, its negation
// and a flat channel
func newTestStack() *models.Stack {
	width, height := 4, 3
	s := &models.Stack{
		Data:      make([]float32, width*height*3),
		Width:     width,
		Height:    height,
		Channels:  3,
		AxisLabel: "F",
		Ranges: []models.ChannelRange{
			{Label: "Structure Tensor Eigenvalues", Start: 0, End: 2},
			{Label: "Mean", Start: 2, End: 3},
		},
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			s.Data[i] = float32(i)
			s.Data[width*height+i] = -float32(i)
			s.Data[2*width*height+i] = 7
		}
	}
	return s
}

// TestExtractChannel verifies per-channel min-max normalisation
func TestExtractChannel(t *testing.T) {
	viewer := NewViewer(newTestStack())

	img, err := viewer.ExtractChannel(0)
	if err != nil {
		t.Fatalf("Failed to extract channel 0: %v", err)
	}
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected minimum to map to 0, got %d", got)
	}
	if got := img.Gray16At(3, 2).Y; got != 65535 {
		t.Errorf("Expected maximum to map to 65535, got %d", got)
	}

	negated, err := viewer.ExtractChannel(1)
	if err != nil {
		t.Fatalf("Failed to extract channel 1: %v", err)
	}
	if got := negated.Gray16At(0, 0).Y; got != 65535 {
		t.Errorf("Expected negated ramp to start bright, got %d", got)
	}

	flat, err := viewer.ExtractChannel(2)
	if err != nil {
		t.Fatalf("Failed to extract flat channel: %v", err)
	}
	if got := flat.Gray16At(1, 1).Y; got != 0 {
		t.Errorf("Expected flat channel to render black, got %d", got)
	}

	if _, err := viewer.ExtractChannel(3); err == nil {
		t.Error("Expected error for out of range channel, got nil")
	}
	if _, err := viewer.ExtractChannel(-1); err == nil {
		t.Error("Expected error for negative channel, got nil")
	}
}

// TestExtractChannelNonFinite verifies that NaN and infinite samples neither
// distort the normalisation of the finite ones nor produce undefined pixels
func TestExtractChannelNonFinite(t *testing.T) {
	s := &models.Stack{
		Data:     []float32{0, 2, 4, float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))},
		Width:    3,
		Height:   2,
		Channels: 1,
	}

	img, err := NewViewer(s).ExtractChannel(0)
	if err != nil {
		t.Fatalf("Failed to extract channel: %v", err)
	}

	want := map[[2]int]uint16{
		{0, 0}: 0,
		{1, 0}: 32768,
		{2, 0}: 65535,
		{0, 1}: 0,
		{1, 1}: 65535,
		{2, 1}: 0,
	}
	for p, w := range want {
		if got := img.Gray16At(p[0], p[1]).Y; got != w {
			t.Errorf("Pixel (%d,%d): expected %d, got %d", p[0], p[1], w, got)
		}
	}

	s.Data = []float32{float32(math.NaN()), float32(math.NaN()), 1, 1, 1, 1}
	if _, err := NewViewer(s).ExtractChannel(0); err != nil {
		t.Errorf("Expected channel with NaN samples to render, got %v", err)
	}
}

// TestFeatureVector verifies that a pixel's values are gathered across channels
func TestFeatureVector(t *testing.T) {
	viewer := NewViewer(newTestStack())

	vec, err := viewer.FeatureVector(2, 1)
	if err != nil {
		t.Fatalf("Failed to read feature vector: %v", err)
	}
	want := []float32{6, -6, 7}
	if len(vec) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(vec))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("Channel %d: expected %f, got %f", i, want[i], vec[i])
		}
	}

	if _, err := viewer.FeatureVector(4, 0); err == nil {
		t.Error("Expected error for pixel outside the stack, got nil")
	}
}

// TestExtractRegion verifies that blocks are copied in planar order
func TestExtractRegion(t *testing.T) {
	s := newTestStack()
	viewer := NewViewer(s)

	region, err := viewer.ExtractRegion(1, 1, 0, 2, 2, 2)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if len(region) != 8 {
		t.Fatalf("Expected 8 values, got %d", len(region))
	}
	for c := 0; c < 2; c++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				got := region[c*4+y*2+x]
				want := s.At(1+x, 1+y, c)
				if got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %f, got %f", x, y, c, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(3, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region beyond boundaries, got nil")
	}
}

// TestSaveChannels verifies that every channel is written as a readable PNG
func TestSaveChannels(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "channels")
	viewer := NewViewer(newTestStack())

	files, err := viewer.SaveChannels(outputDir)
	if err != nil {
		t.Fatalf("Failed to save channels: %v", err)
	}

	want := []string{
		"channel_000_structure_tensor_eigenvalues_0.png",
		"channel_001_structure_tensor_eigenvalues_1.png",
		"channel_002_mean.png",
	}
	if len(files) != len(want) {
		t.Fatalf("Expected %d files, got %d", len(want), len(files))
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Errorf("Expected file %s, got %s", name, filepath.Base(files[i]))
		}

		f, err := os.Open(files[i])
		if err != nil {
			t.Fatalf("Failed to open %s: %v", files[i], err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", files[i], err)
		}
		if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
			t.Errorf("Expected 4x3 image, got %dx%d", b.Dx(), b.Dy())
		}
	}
}
