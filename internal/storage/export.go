package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/sim"
)

var (
	sampleColumns = []string{"target_height", "time", "step", "height", "velocity", "log_density", "temperature"}
	traceColumns  = []string{"step", "dt", "retried", "time", "height", "velocity", "log_density", "temperature"}
)

type ExportData struct {
	Name        string                         `json:"name"`
	Phase       sim.Phase                      `json:"phase"`
	Steps       int                            `json:"steps"`
	Time        float64                        `json:"time"`
	Retries     int                            `json:"retries"`
	Inputs      sim.Inputs                     `json:"inputs"`
	Metrics     map[string]float64             `json:"metrics"`
	History     sim.History                    `json:"history"`
	FinalPlasma plasma.State                   `json:"final_plasma"`
	Final       map[string]plasma.ChargeStates `json:"final"`
	Trace       []sim.TraceEntry               `json:"trace,omitempty"`
}

func ExportJSON(w io.Writer, name string, result *sim.Result) error {
	data := ExportData{
		Name:        name,
		Phase:       result.Phase,
		Steps:       result.Steps,
		Time:        result.Time,
		Retries:     result.Retries,
		Inputs:      result.Inputs,
		Metrics:     result.Metrics,
		History:     result.History,
		FinalPlasma: result.FinalPlasma,
		Final:       result.Final,
		Trace:       result.Trace,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteSamplesCSV writes one row per sample. Charge state columns are named
// <symbol>_<charge>, with elements in alphabetical order.
func WriteSamplesCSV(out io.Writer, history sim.History) error {
	w := csv.NewWriter(out)

	var symbols []string
	if len(history) > 0 {
		for sym := range history[0].ChargeStates {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
	}

	header := append([]string(nil), sampleColumns...)
	for _, sym := range symbols {
		for q := range history[0].ChargeStates[sym] {
			header = append(header, fmt.Sprintf("%s_%d", sym, q))
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, s := range history {
		row := []string{
			formatFloat(s.Target),
			formatFloat(s.Time),
			strconv.Itoa(s.Step),
			formatFloat(s.Plasma.Height),
			formatFloat(s.Plasma.Velocity),
			formatFloat(s.Plasma.LogDensity),
			formatFloat(s.Plasma.Temperature),
		}
		for _, sym := range symbols {
			for _, v := range s.ChargeStates[sym] {
				row = append(row, formatFloat(v))
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

type column struct {
	symbol string
	charge int
}

func ReadSamplesCSV(in io.Reader) (sim.History, error) {
	records, err := csv.NewReader(in).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("samples: missing header")
	}

	header := records[0]
	if len(header) < len(sampleColumns) {
		return nil, fmt.Errorf("samples: short header %v", header)
	}

	cols := make([]column, 0, len(header)-len(sampleColumns))
	sizes := make(map[string]int)
	for _, name := range header[len(sampleColumns):] {
		i := strings.LastIndex(name, "_")
		if i <= 0 {
			return nil, fmt.Errorf("samples: bad column %q", name)
		}
		q, err := strconv.Atoi(name[i+1:])
		if err != nil {
			return nil, fmt.Errorf("samples: bad column %q", name)
		}
		sym := name[:i]
		cols = append(cols, column{symbol: sym, charge: q})
		if q+1 > sizes[sym] {
			sizes[sym] = q + 1
		}
	}

	history := make(sim.History, 0, len(records)-1)
	for n, record := range records[1:] {
		vals := make([]float64, len(record))
		for j, field := range record {
			if j == 2 {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("samples: row %d column %s: %w", n+1, header[j], err)
			}
			vals[j] = v
		}
		step, err := strconv.Atoi(record[2])
		if err != nil {
			return nil, fmt.Errorf("samples: row %d step: %w", n+1, err)
		}

		s := sim.Sample{
			Target: vals[0],
			Time:   vals[1],
			Step:   step,
			Plasma: plasma.State{
				Time:        vals[1],
				Height:      vals[3],
				Velocity:    vals[4],
				LogDensity:  vals[5],
				Temperature: vals[6],
			},
			ChargeStates: make(map[string]plasma.ChargeStates, len(sizes)),
		}
		for sym, size := range sizes {
			s.ChargeStates[sym] = make(plasma.ChargeStates, size)
		}
		for k, c := range cols {
			s.ChargeStates[c.symbol][c.charge] = vals[len(sampleColumns)+k]
		}
		history = append(history, s)
	}

	return history, nil
}

func WriteTraceCSV(out io.Writer, trace []sim.TraceEntry) error {
	w := csv.NewWriter(out)
	if err := w.Write(traceColumns); err != nil {
		return err
	}

	for _, e := range trace {
		row := []string{
			strconv.Itoa(e.Step),
			formatFloat(e.Dt),
			strconv.FormatBool(e.Retried),
			formatFloat(e.Plasma.Time),
			formatFloat(e.Plasma.Height),
			formatFloat(e.Plasma.Velocity),
			formatFloat(e.Plasma.LogDensity),
			formatFloat(e.Plasma.Temperature),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func parseTrace(records [][]string) ([]sim.TraceEntry, error) {
	if len(records) < 2 {
		return []sim.TraceEntry{}, nil
	}

	trace := make([]sim.TraceEntry, 0, len(records)-1)
	for n, record := range records[1:] {
		if len(record) != len(traceColumns) {
			return nil, fmt.Errorf("trace: row %d has %d fields", n+1, len(record))
		}
		step, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("trace: row %d step: %w", n+1, err)
		}
		retried, err := strconv.ParseBool(record[2])
		if err != nil {
			return nil, fmt.Errorf("trace: row %d retried: %w", n+1, err)
		}
		var f [6]float64
		for j, idx := range []int{1, 3, 4, 5, 6, 7} {
			v, err := strconv.ParseFloat(record[idx], 64)
			if err != nil {
				return nil, fmt.Errorf("trace: row %d column %s: %w", n+1, traceColumns[idx], err)
			}
			f[j] = v
		}
		trace = append(trace, sim.TraceEntry{
			Step:    step,
			Dt:      f[0],
			Retried: retried,
			Plasma: plasma.State{
				Time:        f[1],
				Height:      f[2],
				Velocity:    f[3],
				LogDensity:  f[4],
				Temperature: f[5],
			},
		})
	}
	return trace, nil
}
