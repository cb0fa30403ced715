package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/cmeheat/internal/sim"
)

const historyLen = 120

type model struct {
	feed   *Feed
	cancel context.CancelFunc

	phase    sim.Phase
	last     stepMsg
	hasStep  bool
	retries  int
	cursor   int
	maxSteps int
	maxH     float64

	logT    []float64
	heights []float64

	result *sim.Result
	err    error

	width  int
	height int
}

func newModel(feed *Feed, cancel context.CancelFunc, cfg sim.Config) model {
	return model{
		feed:     feed,
		cancel:   cancel,
		maxSteps: cfg.MaxSteps,
		maxH:     cfg.MaxHeight,
		width:    80,
		height:   24,
	}
}

func (m model) waitStep() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.feed.steps:
			return msg
		case <-m.feed.done:
			return nil
		}
	}
}

func (m model) waitPhase() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.feed.phases:
			return msg
		case <-m.feed.done:
			return nil
		}
	}
}

func (m model) Init() tea.Cmd { return tea.Batch(m.waitStep(), m.waitPhase()) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case stepMsg:
		m.apply(msg)
		return m, m.waitStep()
	case phaseMsg:
		m.phase = sim.Phase(msg)
		return m, m.waitPhase()
	case doneMsg:
		m.result = msg.result
		m.err = msg.err
		if r := msg.result; r != nil {
			m.phase = r.Phase
			m.retries = r.Retries
			if r.Steps > 0 {
				m.last.step = r.Steps
				m.last.plasma = r.FinalPlasma
				m.last.charges = r.Final
				m.hasStep = true
				if len(m.last.symbols) == 0 {
					for sym := range r.Final {
						m.last.symbols = append(m.last.symbols, sym)
					}
					sort.Strings(m.last.symbols)
				}
			}
		}
		return m, nil
	}
	return m, nil
}

func (m *model) apply(msg stepMsg) {
	m.last = msg
	m.hasStep = true
	if msg.retried {
		m.retries++
	}
	if n := len(msg.symbols); n > 0 && m.cursor >= n {
		m.cursor = n - 1
	}
	m.logT = appendBounded(m.logT, msg.plasma.LogTemperature())
	m.heights = appendBounded(m.heights, msg.plasma.Height)
}

func appendBounded(data []float64, v float64) []float64 {
	data = append(data, v)
	if len(data) > historyLen {
		data = data[len(data)-historyLen:]
	}
	return data
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l":
		if m.cursor < len(m.last.symbols)-1 {
			m.cursor++
		}
	case "enter":
		if m.result != nil || m.err != nil {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	statusIcon := green.Render("●")
	statusText := green.Render(m.phase.String())
	switch {
	case m.err != nil || m.phase == sim.Failed:
		statusIcon = red.Render("✕")
		statusText = red.Render(sim.Failed.String())
	case m.phase == sim.Done:
		statusIcon = cyan.Render("✓")
		statusText = cyan.Render(m.phase.String())
	case m.phase == sim.Sampling:
		statusIcon = yellow.Render("◆")
		statusText = yellow.Render(m.phase.String())
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", statusIcon, cyan.Render("c m e h e a t"), statusText))

	if !m.hasStep {
		b.WriteString("\n" + dim.Render("   waiting for first step") + "\n")
		return b.String()
	}

	p := m.last.plasma
	progress := 0.0
	if m.maxSteps > 0 {
		progress = float64(m.last.step) / float64(m.maxSteps)
	}
	if m.maxH > 0 && p.Height/m.maxH > progress {
		progress = p.Height / m.maxH
	}
	b.WriteString(fmt.Sprintf("   %s %s\n\n", bar(progress, 36, cyan),
		dim.Render(fmt.Sprintf("step %d/%d", m.last.step, m.maxSteps))))

	b.WriteString(fmt.Sprintf("   %s %s  %s %s  %s %s\n",
		dim.Render("t="), white.Render(fmt.Sprintf("%.1fs", p.Time)),
		dim.Render("dt="), white.Render(fmt.Sprintf("%.2fs", m.last.dt)),
		dim.Render("retries="), white.Render(fmt.Sprintf("%d", m.retries))))
	b.WriteString(fmt.Sprintf("   %s %s  %s %s  %s %s  %s %s\n\n",
		dim.Render("h="), white.Render(fmt.Sprintf("%.3f Rsun", p.Height)),
		dim.Render("v="), white.Render(fmt.Sprintf("%.0f km/s", p.Velocity)),
		dim.Render("log n="), white.Render(fmt.Sprintf("%.2f", p.LogDensity)),
		dim.Render("log T="), white.Render(fmt.Sprintf("%.2f", p.LogTemperature()))))

	if len(m.logT) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("log T"), magenta.Render(sparkline(m.logT, 40))))
		b.WriteString(fmt.Sprintf("   %s %s\n\n", dim.Render("h    "), cyan.Render(sparkline(m.heights, 40))))
	}

	if len(m.last.symbols) > 0 {
		b.WriteString(m.viewElements())
		b.WriteString(m.viewCharges())
	}

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   ←→ element   q quit") + "\n")
	return b.String()
}

func (m model) viewElements() string {
	var b strings.Builder
	b.WriteString("   ")
	for i, sym := range m.last.symbols {
		if i == m.cursor {
			b.WriteString(cyan.Render("▸"+sym) + " ")
		} else {
			b.WriteString(dim.Render(" "+sym) + " ")
		}
	}
	b.WriteString("\n\n")
	return b.String()
}

// viewCharges draws the selected element's charge distribution next to the
// equilibrium at the current temperature.
func (m model) viewCharges() string {
	sym := m.last.symbols[m.cursor]
	cs := m.last.charges[sym]
	eq := m.last.equilibria[sym]

	var b strings.Builder
	b.WriteString(fmt.Sprintf("   %s  %s %s\n", white.Render(sym),
		dim.Render("mean charge"), white.Render(fmt.Sprintf("%.3f", cs.MeanCharge()))))

	rows := len(cs)
	if limit := m.height - 18; limit > 4 && rows > limit {
		rows = limit
	}
	for q := 0; q < rows; q++ {
		line := fmt.Sprintf("   %s %s %s", dim.Render(fmt.Sprintf("%s+%-2d", sym, q)),
			bar(cs[q], 30, green), white.Render(fmt.Sprintf("%.4f", cs[q])))
		if q < len(eq) {
			line += dimmer.Render(fmt.Sprintf("  eq %.4f", eq[q]))
		}
		b.WriteString(line + "\n")
	}
	if rows < len(cs) {
		b.WriteString(dimmer.Render(fmt.Sprintf("   … %d more", len(cs)-rows)) + "\n")
	}
	return b.String()
}

// RunLive runs the simulation under a live terminal view. Quitting the view
// cancels the run.
func RunLive(ctx context.Context, s *sim.Simulator, cfg sim.Config) (*sim.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := NewFeed()
	defer feed.Close()
	s.AddObserver(feed)

	p := tea.NewProgram(newModel(feed, cancel, cfg), tea.WithAltScreen())

	type outcome struct {
		result *sim.Result
		err    error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := s.Run(ctx, cfg)
		finished <- outcome{res, err}
		p.Send(doneMsg{result: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		feed.Close()
		<-finished
		return nil, err
	}

	cancel()
	feed.Close()
	out := <-finished
	return out.result, out.err
}
