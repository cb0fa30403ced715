package metrics

import (
	"math"

	"github.com/san-kum/cmeheat/internal/sim"
)

// TimestepStats reports the mean step size; Min gives the smallest.
type TimestepStats struct {
	name    string
	sum     float64
	min     float64
	samples int
}

func NewTimestepStats() *TimestepStats {
	return &TimestepStats{name: "mean_dt", min: math.Inf(1)}
}

func (s *TimestepStats) Name() string { return s.name }

func (s *TimestepStats) Observe(ev sim.StepEvent) {
	s.sum += ev.Dt
	s.min = math.Min(s.min, ev.Dt)
	s.samples++
}

func (s *TimestepStats) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *TimestepStats) Min() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.min
}

func (s *TimestepStats) Reset() {
	s.sum = 0
	s.min = math.Inf(1)
	s.samples = 0
}
