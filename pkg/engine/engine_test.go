package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixfeatstack/internal/logger"
	"pixfeatstack/internal/models"
	"pixfeatstack/pkg/features"
	"pixfeatstack/pkg/scheduler"
	"pixfeatstack/pkg/stack"
)

// windowFilter applies reduce over a clamped square neighbourhood
func windowFilter(in *models.Volume, window int, reduce func([]float64) float64) *models.MultiChannelVolume {
	out := models.NewMultiChannelVolume(in.Width, in.Height, 1)
	r := window / 2
	buf := make([]float64, 0, window*window)
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			buf = buf[:0]
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					sx := min(max(x+dx, 0), in.Width-1)
					sy := min(max(y+dy, 0), in.Height-1)
					buf = append(buf, in.At(sx, sy))
				}
			}
			out.Set(x, y, 0, reduce(buf))
		}
	}
	return out
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maximum(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

type testRegistry struct {
	*features.Registry
	maxDelay time.Duration
	maxErr   error
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	reg := &testRegistry{Registry: features.NewRegistry()}
	require.NoError(t, reg.Bind(features.Mean, func(ctx context.Context, in *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
		return windowFilter(in, p.Int(features.ParamWindow), mean), nil
	}))
	require.NoError(t, reg.Bind(features.Max, func(ctx context.Context, in *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
		if reg.maxDelay > 0 {
			select {
			case <-time.After(reg.maxDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if reg.maxErr != nil {
			return nil, reg.maxErr
		}
		return windowFilter(in, p.Int(features.ParamWindow), maximum), nil
	}))
	require.NoError(t, reg.Bind(features.StructureTensorEigenvalues, func(ctx context.Context, in *models.Volume, p features.Params) (*models.MultiChannelVolume, error) {
		out := models.NewMultiChannelVolume(in.Width, in.Height, 2)
		copy(out.Plane(0), in.Data)
		for i, v := range in.Data {
			out.Plane(1)[i] = -v
		}
		return out, nil
	}))
	return reg
}

func testInput(w, h int) *models.Volume {
	v := models.NewVolume(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v.Set(x, y, float64((x*7+y*13)%31))
		}
	}
	return v
}

func meanMaxRequests() []features.Request {
	return []features.Request{
		features.MustRequest(features.Mean, map[string]float64{features.ParamWindow: 3}),
		features.MustRequest(features.Max, map[string]float64{features.ParamWindow: 3}),
	}
}

func TestComputeSequentialMeanMax(t *testing.T) {
	reg := newTestRegistry(t)
	input := testInput(64, 64)

	out, err := New(reg, WithMode(scheduler.Sequential())).Compute(context.Background(), input, meanMaxRequests())
	require.NoError(t, err)
	assert.Equal(t, 64, out.Width)
	assert.Equal(t, 64, out.Height)
	require.Equal(t, 2, out.Channels)

	wantMean := windowFilter(input, 3, mean)
	wantMax := windowFilter(input, 3, maximum)
	for i := range wantMean.Data {
		require.Equal(t, float32(wantMean.Data[i]), out.Channel(0)[i])
		require.Equal(t, float32(wantMax.Data[i]), out.Channel(1)[i])
	}

	assert.Equal(t, []models.ChannelRange{
		{Label: "Mean", Start: 0, End: 1},
		{Label: "Max", Start: 1, End: 2},
	}, out.Ranges)
	assert.Equal(t, stack.DefaultAxisLabel, out.AxisLabel)
}

func TestComputeParallelMatchesSequential(t *testing.T) {
	reg := newTestRegistry(t)
	input := testInput(64, 64)

	seq, err := New(reg, WithMode(scheduler.Sequential())).Compute(context.Background(), input, meanMaxRequests())
	require.NoError(t, err)

	reg.maxDelay = 50 * time.Millisecond
	par, err := New(reg, WithMode(scheduler.Parallel(4))).Compute(context.Background(), input, meanMaxRequests())
	require.NoError(t, err)

	assert.Equal(t, seq.Data, par.Data)
	assert.Equal(t, seq.Ranges, par.Ranges)
}

func TestComputeMaxFails(t *testing.T) {
	reg := newTestRegistry(t)
	reg.maxDelay = 20 * time.Millisecond
	reg.maxErr = errors.New("out of memory")

	for _, mode := range []scheduler.Mode{scheduler.Sequential(), scheduler.Parallel(4)} {
		out, err := New(reg, WithMode(mode)).Compute(context.Background(), testInput(64, 64), meanMaxRequests())
		assert.Nil(t, out, "no partial stack")
		assert.ErrorIs(t, err, scheduler.ErrEvaluationFailed)
		assert.ErrorIs(t, err, reg.maxErr)

		var evalErr *scheduler.EvaluationError
		require.True(t, errors.As(err, &evalErr))
		assert.Equal(t, features.Max, evalErr.Kind)
	}
}

func TestComputeChannelCount(t *testing.T) {
	reg := newTestRegistry(t)
	reqs := []features.Request{
		features.MustRequest(features.Mean, nil),
		features.MustRequest(features.StructureTensorEigenvalues, nil),
		features.MustRequest(features.Max, nil),
		features.MustRequest(features.Mean, map[string]float64{features.ParamWindow: 5}),
	}

	out, err := New(reg, WithMode(scheduler.Parallel(2)), WithAxisLabel("Features")).Compute(context.Background(), testInput(16, 8), reqs)
	require.NoError(t, err)
	assert.Equal(t, len(reqs)+1, out.Channels)
	assert.Equal(t, "Features", out.AxisLabel)
	assert.Equal(t, models.ChannelRange{Label: "Structure Tensor Eigenvalues", Start: 1, End: 3}, out.Ranges[1])
	assert.Equal(t, models.ChannelRange{Label: "Max", Start: 3, End: 4}, out.Ranges[2])
	assert.Equal(t, float32(-out.At(3, 2, 1)), out.At(3, 2, 2))
}

func TestComputeEmptyRequests(t *testing.T) {
	out, err := New(newTestRegistry(t)).Compute(context.Background(), testInput(8, 4), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 4, out.Height)
	assert.Zero(t, out.Channels)
}

func TestComputeCancelledBeforeStart(t *testing.T) {
	var calls atomic.Int32
	eval := features.EvaluatorFunc(func(ctx context.Context, in *models.Volume, req features.Request) (*models.MultiChannelVolume, error) {
		calls.Add(1)
		return models.NewMultiChannelVolume(in.Width, in.Height, 1), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := New(eval).Compute(ctx, testInput(8, 8), meanMaxRequests())
	assert.Nil(t, out)
	assert.True(t, scheduler.IsCancelled(err))
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.False(t, errors.Is(err, scheduler.ErrEvaluationFailed))
	assert.Zero(t, calls.Load())
}

func TestComputeShapeMismatch(t *testing.T) {
	eval := features.EvaluatorFunc(func(ctx context.Context, in *models.Volume, req features.Request) (*models.MultiChannelVolume, error) {
		if req.Kind == features.Max {
			return models.NewMultiChannelVolume(in.Width-1, in.Height, 1), nil
		}
		return models.NewMultiChannelVolume(in.Width, in.Height, 1), nil
	})

	out, err := New(eval).Compute(context.Background(), testInput(8, 8), meanMaxRequests())
	assert.Nil(t, out)
	assert.ErrorIs(t, err, stack.ErrShapeMismatch)
	assert.True(t, strings.HasPrefix(err.Error(), "Max:"))
}

func TestComputeInvalidInput(t *testing.T) {
	e := New(newTestRegistry(t))

	_, err := e.Compute(context.Background(), nil, meanMaxRequests())
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := &models.Volume{Width: 4, Height: 4, Data: make([]float64, 15)}
	_, err = e.Compute(context.Background(), bad, meanMaxRequests())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(nil).Compute(context.Background(), testInput(4, 4), nil)
	assert.Error(t, err)
}

func TestComputeLogsRun(t *testing.T) {
	var buf bytes.Buffer
	var progressed atomic.Int32

	e := New(newTestRegistry(t),
		WithLogger(logger.New(&buf, zerolog.DebugLevel)),
		WithProgress(func(completed, total int, kind features.Kind) { progressed.Add(1) }),
	)
	_, err := e.Compute(context.Background(), testInput(8, 8), meanMaxRequests())
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, `"run_id"`)
	assert.Contains(t, logs, "feature stack started")
	assert.Contains(t, logs, "feature stack finished")
	assert.Contains(t, logs, `"component":"engine"`)
	assert.EqualValues(t, 2, progressed.Load())
}
