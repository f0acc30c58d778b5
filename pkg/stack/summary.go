package stack

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pixfeatstack/internal/models"
)

// ChannelStats describes the sample distribution of one stack channel
type ChannelStats struct {
	Channel int
	Label   string
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Summarize computes per-channel statistics. Labels are taken from the
// stack's channel ranges.
func Summarize(s *models.Stack) []ChannelStats {
	if s == nil || s.Channels == 0 || s.Width*s.Height == 0 {
		return nil
	}

	labels := make([]string, s.Channels)
	for _, r := range s.Ranges {
		for c := r.Start; c < r.End && c < s.Channels; c++ {
			labels[c] = r.Label
		}
	}

	out := make([]ChannelStats, s.Channels)
	values := make([]float64, s.Width*s.Height)
	for c := 0; c < s.Channels; c++ {
		for i, v := range s.Channel(c) {
			values[i] = float64(v)
		}
		mean, std := stat.MeanStdDev(values, nil)
		out[c] = ChannelStats{
			Channel: c,
			Label:   labels[c],
			Mean:    mean,
			StdDev:  std,
			Min:     floats.Min(values),
			Max:     floats.Max(values),
		}
	}
	return out
}
