// Package giftops binds the feature kinds that the gift filter library can
// express to a features.Registry. It is a reference evaluator for the CLI
// and for integration tests; kinds gift has no filter for stay unbound and
// report features.ErrUnsupportedFeature.
package giftops

import (
	"context"
	"image"

	"github.com/disintegration/gift"

	"pixfeatstack/internal/models"
	"pixfeatstack/pkg/features"
	"pixfeatstack/pkg/imageio"
)

var laplacian = []float32{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// NewRegistry returns a registry with every gift-backed binding installed
func NewRegistry() *features.Registry {
	reg := features.NewRegistry()

	bindings := map[features.Kind]features.Binding{
		features.GaussianBlur:              perSigma(func(s float32) []gift.Filter { return []gift.Filter{gift.GaussianBlur(s)} }),
		features.GaussianGradientMagnitude: perSigma(func(s float32) []gift.Filter { return []gift.Filter{gift.GaussianBlur(s), gift.Sobel()} }),
		features.LaplacianOfGaussian: perSigma(func(s float32) []gift.Filter {
			return []gift.Filter{gift.GaussianBlur(s), gift.Convolution(laplacian, false, false, true, 0)}
		}),
		features.DifferenceOfGaussian: differenceOfGaussians,
		features.Sobel:                single(func(features.Params) []gift.Filter { return []gift.Filter{gift.Sobel()} }),
		features.Mean:                 single(window(gift.Mean)),
		features.Median:               single(window(gift.Median)),
		features.Min:                  single(window(gift.Minimum)),
		features.Max:                  single(window(gift.Maximum)),
		features.Variance:             variance,
	}
	for kind, fn := range bindings {
		if err := reg.Bind(kind, fn); err != nil {
			panic(err)
		}
	}
	return reg
}

// apply runs the filter chain over src and returns the result in the 0..1 range
func apply(src *image.Gray16, filters ...gift.Filter) []float64 {
	g := gift.New(filters...)
	dst := image.NewGray16(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return imageio.FromImage(dst).Data
}

// oddWindow converts a window parameter to the odd kernel size gift expects
func oddWindow(p features.Params) int {
	k := p.Int(features.ParamWindow)
	if k%2 == 0 {
		k++
	}
	return k
}

func window(filter func(ksize int, disk bool) gift.Filter) func(features.Params) []gift.Filter {
	return func(p features.Params) []gift.Filter {
		return []gift.Filter{filter(oddWindow(p), false)}
	}
}

func single(chain func(features.Params) []gift.Filter) features.Binding {
	return func(ctx context.Context, input *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := models.NewMultiChannelVolume(input.Width, input.Height, 1)
		copy(out.Plane(0), apply(imageio.ToImage(input), chain(p)...))
		return out, nil
	}
}

// perSigma produces one channel per scale in Params.Sigmas
func perSigma(chain func(sigma float32) []gift.Filter) features.Binding {
	return func(ctx context.Context, input *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
		sigmas := p.Sigmas()
		src := imageio.ToImage(input)
		out := models.NewMultiChannelVolume(input.Width, input.Height, len(sigmas))
		for c, s := range sigmas {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			copy(out.Plane(c), apply(src, chain(float32(s))...))
		}
		return out, nil
	}
}

// differenceOfGaussians subtracts each blur from the next finer one. A single
// scale is compared against the unblurred input.
func differenceOfGaussians(ctx context.Context, input *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
	src := imageio.ToImage(input)
	sigmas := p.Sigmas()

	blurred := make([][]float64, 0, len(sigmas)+1)
	if len(sigmas) == 1 {
		blurred = append(blurred, imageio.FromImage(src).Data)
	}
	for _, s := range sigmas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blurred = append(blurred, apply(src, gift.GaussianBlur(float32(s))))
	}

	out := models.NewMultiChannelVolume(input.Width, input.Height, len(blurred)-1)
	for c := 0; c < out.Channels; c++ {
		plane := out.Plane(c)
		for i := range plane {
			plane[i] = blurred[c][i] - blurred[c+1][i]
		}
	}
	return out, nil
}

// variance combines two gift mean filters: E[x^2] - E[x]^2
func variance(ctx context.Context, input *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
	k := oddWindow(p)

	squared := models.NewVolume(input.Width, input.Height)
	for i, v := range input.Data {
		squared.Data[i] = v * v
	}

	meanOf := apply(imageio.ToImage(input), gift.Mean(k, false))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meanOfSquares := apply(imageio.ToImage(squared), gift.Mean(k, false))

	out := models.NewMultiChannelVolume(input.Width, input.Height, 1)
	for i := range out.Data {
		v := meanOfSquares[i] - meanOf[i]*meanOf[i]
		if v < 0 {
			v = 0
		}
		out.Data[i] = v
	}
	return out, nil
}
