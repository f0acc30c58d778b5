// Package imageio reads input images into volumes and writes feature stacks
// to disk.
package imageio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"pixfeatstack/internal/models"
)

// stackMagic identifies a raw stack file
const stackMagic = "PXFS"

const stackVersion uint32 = 1

// maxStackSamples bounds the allocation ReadStack makes for one stack (1 GiB
// of float32 samples)
const maxStackSamples = 1 << 28

// ErrBadStackFile is returned when a stack file has an unexpected header
var ErrBadStackFile = errors.New("not a feature stack file")

// LoadVolume decodes a PNG or JPEG file into a grayscale volume in the 0..1 range
func LoadVolume(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return FromImage(img), nil
}

// FromImage converts an image to a grayscale volume in the 0..1 range
func FromImage(img image.Image) *models.Volume {
	bounds := img.Bounds()
	vol := models.NewVolume(bounds.Dx(), bounds.Dy())

	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			vol.Data[y*vol.Width+x] = float64(g.Y) / 65535.0
		}
	}

	return vol
}

// ToImage converts a volume in the 0..1 range to a 16-bit grayscale image.
// Values outside the range are clamped.
func ToImage(vol *models.Volume) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: toUint16(vol.At(x, y))})
		}
	}
	return img
}

func toUint16(v float64) uint16 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 1:
		return 65535
	default:
		return uint16(v*65535 + 0.5)
	}
}

// WriteStackFile writes s to path, creating parent directories as needed
func WriteStackFile(path string, s *models.Stack) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stack file: %w", err)
	}

	if err := WriteStack(file, s); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteStack encodes s as a small little-endian header followed by the
// float32 samples in planar channel order
func WriteStack(w io.Writer, s *models.Stack) error {
	bw := bufio.NewWriter(w)

	header := []any{
		[]byte(stackMagic),
		stackVersion,
		uint32(s.Width),
		uint32(s.Height),
		uint32(s.Channels),
	}
	for _, field := range header {
		if err := binary.Write(bw, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("failed to write stack header: %w", err)
		}
	}

	if err := writeString(bw, s.AxisLabel); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.Ranges))); err != nil {
		return fmt.Errorf("failed to write stack header: %w", err)
	}
	for _, r := range s.Ranges {
		if err := writeString(bw, r.Label); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, [2]uint32{uint32(r.Start), uint32(r.End)}); err != nil {
			return fmt.Errorf("failed to write channel range: %w", err)
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, s.Data); err != nil {
		return fmt.Errorf("failed to write stack data: %w", err)
	}
	return bw.Flush()
}

// ReadStack decodes a stack written by WriteStack
func ReadStack(r io.Reader) (*models.Stack, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(stackMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != stackMagic {
		return nil, ErrBadStackFile
	}

	var dims struct {
		Version, Width, Height, Channels uint32
	}
	if err := binary.Read(br, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("failed to read stack header: %w", err)
	}
	if dims.Version != stackVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadStackFile, dims.Version)
	}
	if err := checkDims(dims.Width, dims.Height, dims.Channels); err != nil {
		return nil, err
	}

	s := &models.Stack{
		Width:    int(dims.Width),
		Height:   int(dims.Height),
		Channels: int(dims.Channels),
	}

	var err error
	if s.AxisLabel, err = readString(br); err != nil {
		return nil, err
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read stack header: %w", err)
	}
	if count > dims.Channels {
		return nil, fmt.Errorf("%w: %d ranges for %d channels", ErrBadStackFile, count, dims.Channels)
	}
	s.Ranges = make([]models.ChannelRange, count)
	for i := range s.Ranges {
		label, err := readString(br)
		if err != nil {
			return nil, err
		}
		var bounds [2]uint32
		if err := binary.Read(br, binary.LittleEndian, &bounds); err != nil {
			return nil, fmt.Errorf("failed to read channel range: %w", err)
		}
		if bounds[0] > bounds[1] || bounds[1] > dims.Channels {
			return nil, fmt.Errorf("%w: channel range [%d, %d) outside %d channels", ErrBadStackFile, bounds[0], bounds[1], dims.Channels)
		}
		s.Ranges[i] = models.ChannelRange{Label: label, Start: int(bounds[0]), End: int(bounds[1])}
	}

	s.Data = make([]float32, s.Width*s.Height*s.Channels)
	if err := binary.Read(br, binary.LittleEndian, s.Data); err != nil {
		return nil, fmt.Errorf("failed to read stack data: %w", err)
	}
	return s, nil
}

// checkDims rejects headers whose sample count is inconsistent or exceeds
// maxStackSamples
func checkDims(width, height, channels uint32) error {
	if channels == 0 {
		return nil
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: %d channels over a %dx%d extent", ErrBadStackFile, channels, width, height)
	}

	// Each factor is below 2^32, so the first product cannot overflow uint64
	// and the second is only formed once the first is within the cap.
	plane := uint64(width) * uint64(height)
	if plane > maxStackSamples || plane*uint64(channels) > maxStackSamples {
		return fmt.Errorf("%w: %dx%dx%d exceeds %d samples", ErrBadStackFile, width, height, channels, uint64(maxStackSamples))
	}
	return nil
}

// ReadStackFile reads a stack file written by WriteStackFile
func ReadStackFile(path string) (*models.Stack, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadStack(file)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return fmt.Errorf("failed to write string length: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("failed to write string: %w", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read string: %w", err)
	}
	return string(buf), nil
}
