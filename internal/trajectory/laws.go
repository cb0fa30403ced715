package trajectory

import (
	"math"

	"github.com/san-kum/cmeheat/internal/plasma"
)

// VelocityLaw gives radial velocity (km/s) and height (solar radii above the
// photosphere) as functions of elapsed time.
type VelocityLaw interface {
	Velocity(t float64) float64
	Height(t float64) float64
}

// DensityLaw gives log10 density as a function of height only.
type DensityLaw interface {
	LogDensity(height float64) float64
}

// TemperatureLaw gives log10 temperature from log10 density.
type TemperatureLaw interface {
	LogTemperature(logDensity float64) float64
}

// Exponential accelerates the parcel toward FinalVelocity:
//
//	v(t) = v_final * (1 - exp(t/scale_time))
//
// A negative scale time gives v -> v_final as t grows. Height is the exact
// integral of v.
type Exponential struct {
	InitialHeight float64
	FinalVelocity float64
	ScaleTime     float64
}

func (e Exponential) Velocity(t float64) float64 {
	return -e.FinalVelocity * math.Expm1(t/e.ScaleTime)
}

func (e Exponential) Height(t float64) float64 {
	travelled := t - e.ScaleTime*math.Expm1(t/e.ScaleTime)
	return e.InitialHeight + e.FinalVelocity*travelled/plasma.SolarRadius
}

// PowerLaw takes the density from its initial to its final value between the
// initial height and the height of final density:
//
//	log n = log n0 + (log nf - log n0) * (1 - (1-x)^alpha),  x = (h-h0)/(hf-h0)
//
// Above hf the parcel keeps expanding self-similarly, n ~ (1+h)^-alpha.
type PowerLaw struct {
	InitialHeight     float64
	HeightOfFinalDens float64
	LogInitialDens    float64
	LogFinalDens      float64
	Exponent          float64
}

func (p PowerLaw) LogDensity(h float64) float64 {
	if h <= p.InitialHeight {
		return p.LogInitialDens
	}
	if h >= p.HeightOfFinalDens {
		return p.LogFinalDens - p.Exponent*math.Log10((1+h)/(1+p.HeightOfFinalDens))
	}
	x := (h - p.InitialHeight) / (p.HeightOfFinalDens - p.InitialHeight)
	return p.LogInitialDens + (p.LogFinalDens-p.LogInitialDens)*(1-math.Pow(1-x, p.Exponent))
}

// Expansion is pure self-similar expansion from the initial height,
// n = n0 * ((1+h0)/(1+h))^alpha. The final density is not enforced.
type Expansion struct {
	InitialHeight  float64
	LogInitialDens float64
	Exponent       float64
}

func (e Expansion) LogDensity(h float64) float64 {
	if h <= e.InitialHeight {
		return e.LogInitialDens
	}
	return e.LogInitialDens - e.Exponent*math.Log10((1+h)/(1+e.InitialHeight))
}

// Polytropic ties temperature to density, T ~ n^index. An index of 2/3 is
// adiabatic expansion of a monatomic gas.
type Polytropic struct {
	LogInitialTemp float64
	LogInitialDens float64
	Index          float64
}

func (p Polytropic) LogTemperature(logDensity float64) float64 {
	return p.LogInitialTemp + p.Index*(logDensity-p.LogInitialDens)
}

type Isothermal struct {
	LogTemp float64
}

func (i Isothermal) LogTemperature(float64) float64 { return i.LogTemp }
