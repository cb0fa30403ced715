package trajectory

import (
	"fmt"
	"math"

	"github.com/san-kum/cmeheat/internal/plasma"
)

// Model maps elapsed time to the plasma state of the parcel. Implementations
// are pure: any time may be requested in any order.
type Model interface {
	At(t float64) plasma.State
}

// Params are the inputs of the default parcel.
type Params struct {
	InitialHeight     float64 `json:"initial_height"`
	LogInitialTemp    float64 `json:"log_initial_temp"`
	LogInitialDens    float64 `json:"log_initial_dens"`
	LogFinalDens      float64 `json:"log_final_dens"`
	HeightOfFinalDens float64 `json:"height_of_final_dens"`
	ExpansionExponent float64 `json:"expansion_exponent"`
	FinalVelocity     float64 `json:"final_velocity"`
	ScaleTime         float64 `json:"scale_time"`
	TemperatureIndex  float64 `json:"temperature_index"`
}

func DefaultParams() Params {
	return Params{
		InitialHeight:     0.1,
		LogInitialTemp:    6.0,
		LogInitialDens:    9.6,
		LogFinalDens:      6.4,
		HeightOfFinalDens: 3.0,
		ExpansionExponent: 3.0,
		FinalVelocity:     500,
		ScaleTime:         -1800,
		TemperatureIndex:  2.0 / 3.0,
	}
}

// Validate checks every parameter the laws depend on.
func (p Params) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"initial_height", p.InitialHeight},
		{"log_initial_temp", p.LogInitialTemp},
		{"log_initial_dens", p.LogInitialDens},
		{"log_final_dens", p.LogFinalDens},
		{"height_of_final_dens", p.HeightOfFinalDens},
		{"expansion_exponent", p.ExpansionExponent},
		{"final_velocity", p.FinalVelocity},
		{"scale_time", p.ScaleTime},
		{"temperature_index", p.TemperatureIndex},
	}
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			return &DomainError{Param: n.name, Value: n.v, Reason: "must be finite"}
		}
	}

	switch {
	case p.ScaleTime == 0:
		return &DomainError{Param: "scale_time", Value: p.ScaleTime, Reason: "must be non-zero"}
	case p.InitialHeight < 0:
		return &DomainError{Param: "initial_height", Value: p.InitialHeight, Reason: "must be non-negative"}
	case p.HeightOfFinalDens <= p.InitialHeight:
		return &DomainError{Param: "height_of_final_dens", Value: p.HeightOfFinalDens, Reason: "must exceed initial_height"}
	case p.ExpansionExponent <= 0:
		return &DomainError{Param: "expansion_exponent", Value: p.ExpansionExponent, Reason: "must be positive"}
	case p.FinalVelocity < 0:
		return &DomainError{Param: "final_velocity", Value: p.FinalVelocity, Reason: "must be non-negative"}
	}
	return nil
}

// Parcel is the default trajectory, composed of one law per quantity.
type Parcel struct {
	params      Params
	velocity    VelocityLaw
	density     DensityLaw
	temperature TemperatureLaw
}

type Option func(*Parcel)

func WithVelocityLaw(v VelocityLaw) Option { return func(p *Parcel) { p.velocity = v } }

func WithDensityLaw(d DensityLaw) Option { return func(p *Parcel) { p.density = d } }

func WithTemperatureLaw(t TemperatureLaw) Option { return func(p *Parcel) { p.temperature = t } }

// New validates params and builds a parcel with the exponential velocity,
// power-law density and polytropic temperature laws unless overridden.
func New(params Params, opts ...Option) (*Parcel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p := &Parcel{
		params: params,
		velocity: Exponential{
			InitialHeight: params.InitialHeight,
			FinalVelocity: params.FinalVelocity,
			ScaleTime:     params.ScaleTime,
		},
		density: PowerLaw{
			InitialHeight:     params.InitialHeight,
			HeightOfFinalDens: params.HeightOfFinalDens,
			LogInitialDens:    params.LogInitialDens,
			LogFinalDens:      params.LogFinalDens,
			Exponent:          params.ExpansionExponent,
		},
		temperature: Polytropic{
			LogInitialTemp: params.LogInitialTemp,
			LogInitialDens: params.LogInitialDens,
			Index:          params.TemperatureIndex,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Parcel) Params() Params { return p.params }

func (p *Parcel) At(t float64) plasma.State {
	h := p.velocity.Height(t)
	logn := p.density.LogDensity(h)
	return plasma.State{
		Time:        t,
		Height:      h,
		Velocity:    p.velocity.Velocity(t),
		LogDensity:  logn,
		Temperature: math.Pow(10, p.temperature.LogTemperature(logn)),
	}
}

// maxSearchTime bounds the bracket search in TimeAtHeight (about 30 years).
const maxSearchTime = 1e9

// TimeAtHeight returns the first time at which the parcel reaches height h,
// assuming height grows monotonically.
func (p *Parcel) TimeAtHeight(h float64) (float64, error) {
	if p.velocity.Height(0) >= h {
		return 0, nil
	}

	lo, hi := 0.0, 1.0
	for p.velocity.Height(hi) < h {
		lo, hi = hi, hi*2
		if hi > maxSearchTime || math.IsNaN(p.velocity.Height(hi)) {
			return 0, fmt.Errorf("%w: %.3f solar radii", ErrUnreachable, h)
		}
	}

	for i := 0; i < 200 && hi-lo > 1e-9*hi; i++ {
		mid := 0.5 * (lo + hi)
		if p.velocity.Height(mid) < h {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}
