package sim_test

import (
	"context"
	"errors"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/san-kum/cmeheat/internal/atomic"
	"github.com/san-kum/cmeheat/internal/atomic/atomictest"
	"github.com/san-kum/cmeheat/internal/metrics"
	"github.com/san-kum/cmeheat/internal/nei"
	"github.com/san-kum/cmeheat/internal/sim"
	"github.com/san-kum/cmeheat/internal/trajectory"
)

type stepCounter struct{ steps int }

func (c *stepCounter) OnStep(sim.StepEvent) { c.steps++ }

func hydrogen() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Elements = []string{"H"}
	cfg.OutputHeights = []float64{2.0}
	return cfg
}

var _ = ginkgo.Describe("Run", func() {
	var wide *atomic.Store

	ginkgo.BeforeEach(func() {
		var err error
		wide, err = atomictest.Store(atomictest.Grid(3.5, 7.0, 71), "H")
		gomega.Expect(err).To(gomega.Succeed())
	})

	ginkgo.Context("a single hydrogen parcel", func() {
		ginkgo.It("finishes with one sample near 2.0 solar radii", func() {
			res, err := sim.New(sim.WithStore(wide)).Run(context.Background(), hydrogen())
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(res.Phase).To(gomega.Equal(sim.Done))
			gomega.Expect(res.History).To(gomega.HaveLen(1))

			sample := res.History[0]
			gomega.Expect(sample.Plasma.Height).To(gomega.BeNumerically("~", 2.0, 0.1))
			gomega.Expect(sample.ChargeStates).To(gomega.HaveKey("H"))
			gomega.Expect(sample.ChargeStates["H"]).To(gomega.HaveLen(2))
			gomega.Expect(sample.ChargeStates["H"].Sum()).To(gomega.BeNumerically("~", 1.0, 1e-9))
		})

		ginkgo.It("collects the run metrics", func() {
			s := sim.New(sim.WithStore(wide))
			for _, m := range metrics.Default() {
				s.AddMetric(m)
			}
			res, err := s.Run(context.Background(), hydrogen())
			gomega.Expect(err).To(gomega.Succeed())

			gomega.Expect(res.Metrics).To(gomega.HaveKey("conservation_drift"))
			gomega.Expect(res.Metrics["conservation_drift"]).To(gomega.BeNumerically("<", 1e-9))
			gomega.Expect(res.Metrics["retry_rate"]).To(gomega.BeZero())
			gomega.Expect(res.Metrics["mean_dt"]).To(gomega.BeNumerically("~", res.Inputs.Budget, res.Inputs.Budget*1e-6))
			gomega.Expect(res.Metrics["equilibrium_departure"]).To(gomega.BeNumerically(">", 0))
		})

		ginkgo.It("reaches a consistent frozen-in state when the step is halved", func() {
			coarse := hydrogen()
			fine := hydrogen()
			fine.MaxSteps = 2 * coarse.MaxSteps

			a, err := sim.New(sim.WithStore(wide)).Run(context.Background(), coarse)
			gomega.Expect(err).To(gomega.Succeed())
			b, err := sim.New(sim.WithStore(wide)).Run(context.Background(), fine)
			gomega.Expect(err).To(gomega.Succeed())

			gomega.Expect(b.Inputs.Budget).To(gomega.BeNumerically("~", a.Inputs.Budget/2, 1e-9))
			gomega.Expect(a.Final["H"].L1(b.Final["H"])).To(gomega.BeNumerically("<", 1e-2))
		})
	})

	ginkgo.DescribeTable("temperature lookup",
		func(lookup nei.Lookup) {
			cfg := hydrogen()
			cfg.Integrator.Lookup = lookup
			res, err := sim.New(sim.WithStore(wide)).Run(context.Background(), cfg)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(res.Inputs.Lookup).To(gomega.Equal(lookup.String()))
			for _, v := range res.Final["H"] {
				gomega.Expect(v).To(gomega.And(gomega.BeNumerically(">=", 0), gomega.BeNumerically("<=", 1)))
			}
		},
		ginkgo.Entry("interpolated", nei.Interpolate),
		ginkgo.Entry("nearest", nei.Nearest),
	)

	ginkgo.Context("an isothermal parcel", func() {
		ginkgo.It("stays in equilibrium on a grid temperature", func() {
			temps := atomictest.Grid(5.5, 6.5, 11)
			st, err := atomictest.Store(temps, "H", "He", "C", "O")
			gomega.Expect(err).To(gomega.Succeed())

			cfg := sim.DefaultConfig()
			cfg.Elements = st.Elements()
			cfg.TrajectoryOptions = []trajectory.Option{
				trajectory.WithTemperatureLaw(trajectory.Isothermal{LogTemp: 6.0}),
			}

			res, err := sim.New(sim.WithStore(st)).Run(context.Background(), cfg)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(res.History).NotTo(gomega.BeEmpty())

			b := st.Locate(res.FinalPlasma.Temperature)
			for _, sym := range cfg.Elements {
				rec, _ := st.Record(sym)
				gomega.Expect(res.Final[sym].L1(rec.Equilibrium(b))).To(gomega.BeNumerically("<", 1e-9), sym)
			}
		})
	})

	ginkgo.Context("invalid inputs", func() {
		ginkgo.It("rejects mismatched atomic grids before stepping", func() {
			dir := ginkgo.GinkgoT().TempDir()
			gomega.Expect(atomictest.WriteDir(dir, atomictest.Grid(5.5, 6.5, 11), "H")).To(gomega.Succeed())
			gomega.Expect(atomictest.WriteDir(dir, atomictest.Grid(5.6, 6.5, 11), "He")).To(gomega.Succeed())

			cfg := hydrogen()
			cfg.Elements = []string{"H", "He"}
			cfg.AtomicDir = dir

			counter := &stepCounter{}
			s := sim.New()
			s.AddObserver(counter)
			res, err := s.Run(context.Background(), cfg)

			var dle *atomic.DataLoadError
			gomega.Expect(errors.As(err, &dle)).To(gomega.BeTrue())
			gomega.Expect(dle.Element).To(gomega.Equal("He"))
			gomega.Expect(counter.steps).To(gomega.BeZero())
			gomega.Expect(res.Phase).To(gomega.Equal(sim.Failed))
		})

		ginkgo.It("reports a zero scale time as a domain error", func() {
			cfg := hydrogen()
			cfg.Trajectory.ScaleTime = 0

			_, err := sim.New(sim.WithStore(wide)).Run(context.Background(), cfg)
			gomega.Expect(err).To(gomega.MatchError(trajectory.ErrDomain))

			var de *trajectory.DomainError
			gomega.Expect(errors.As(err, &de)).To(gomega.BeTrue())
			gomega.Expect(de.Param).To(gomega.Equal("scale_time"))

			var re *sim.RunError
			gomega.Expect(errors.As(err, &re)).To(gomega.BeTrue())
			gomega.Expect(re.Component).To(gomega.Equal(sim.ComponentTrajectory))
		})
	})

	ginkgo.It("keeps every sampled vector normalised", func() {
		st, err := atomictest.Store(atomictest.Grid(5.5, 6.5, 11), "He", "C")
		gomega.Expect(err).To(gomega.Succeed())

		cfg := sim.DefaultConfig()
		cfg.Elements = []string{"He", "C"}
		cfg.OutputHeights = []float64{0.5, 1, 1.5, 2, 2.5}

		res, err := sim.New(sim.WithStore(st)).Run(context.Background(), cfg)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.History).To(gomega.HaveLen(5))
		for _, sample := range res.History {
			for sym, cs := range sample.ChargeStates {
				gomega.Expect(cs.Sum()).To(gomega.BeNumerically("~", 1.0, 1e-9), sym)
				gomega.Expect(cs.IsValid()).To(gomega.BeTrue(), sym)
			}
		}
	})
})
