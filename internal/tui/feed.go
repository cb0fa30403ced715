package tui

import (
	"sort"

	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/sim"
)

// stepMsg is a copy of one step event, safe to hand to the UI goroutine.
type stepMsg struct {
	step       int
	dt         float64
	retried    bool
	plasma     plasma.State
	charges    map[string]plasma.ChargeStates
	symbols    []string
	equilibria map[string]plasma.ChargeStates
}

type phaseMsg sim.Phase

type doneMsg struct {
	result *sim.Result
	err    error
}

// Feed forwards simulator events to the live view. Step events are dropped
// when the view falls behind; phase changes never are.
type Feed struct {
	steps  chan stepMsg
	phases chan phaseMsg
	done   chan struct{}
}

func NewFeed() *Feed {
	return &Feed{
		steps:  make(chan stepMsg, 1),
		phases: make(chan phaseMsg, 16),
		done:   make(chan struct{}),
	}
}

func (f *Feed) OnStep(ev sim.StepEvent) {
	msg := stepMsg{
		step:       ev.Step,
		dt:         ev.Dt,
		retried:    ev.Retried,
		plasma:     ev.Plasma,
		charges:    make(map[string]plasma.ChargeStates, len(ev.ChargeStates)),
		equilibria: make(map[string]plasma.ChargeStates, len(ev.ChargeStates)),
	}
	for sym, cs := range ev.ChargeStates {
		msg.charges[sym] = cs.Clone()
		msg.symbols = append(msg.symbols, sym)
		if ev.Store == nil {
			continue
		}
		if rec, ok := ev.Store.Record(sym); ok {
			msg.equilibria[sym] = rec.Equilibrium(ev.Bracket)
		}
	}
	sort.Strings(msg.symbols)

	select {
	case f.steps <- msg:
	default:
	}
}

func (f *Feed) OnPhase(p sim.Phase) {
	select {
	case f.phases <- phaseMsg(p):
	case <-f.done:
	}
}

// Close releases a blocked sender once the view has gone.
func (f *Feed) Close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}
