package metrics

import "github.com/san-kum/cmeheat/internal/sim"

// Retries is the fraction of steps that needed the half-step retry.
type Retries struct {
	name    string
	retried int
	samples int
}

func NewRetries() *Retries {
	return &Retries{name: "retry_rate"}
}

func (r *Retries) Name() string { return r.name }

func (r *Retries) Observe(ev sim.StepEvent) {
	r.samples++
	if ev.Retried {
		r.retried++
	}
}

func (r *Retries) Value() float64 {
	if r.samples == 0 {
		return 0
	}
	return float64(r.retried) / float64(r.samples)
}

func (r *Retries) Count() int { return r.retried }

func (r *Retries) Reset() {
	r.retried = 0
	r.samples = 0
}

// Default returns the metrics attached to every CLI run.
func Default() []sim.Metric {
	return []sim.Metric{
		NewConservationDrift(),
		NewEquilibriumDeparture(),
		NewTimestepStats(),
		NewRetries(),
	}
}
