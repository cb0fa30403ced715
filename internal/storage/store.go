package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/san-kum/cmeheat/internal/plasma"
	"github.com/san-kum/cmeheat/internal/sim"
)

const (
	metadataFile = "metadata.json"
	samplesFile  = "samples.csv"
	traceFile    = "trace.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string                         `json:"id"`
	Name        string                         `json:"name"`
	Timestamp   time.Time                      `json:"timestamp"`
	Phase       sim.Phase                      `json:"phase"`
	Steps       int                            `json:"steps"`
	Time        float64                        `json:"time"`
	Retries     int                            `json:"retries"`
	Inputs      sim.Inputs                     `json:"inputs"`
	Metrics     map[string]float64             `json:"metrics"`
	FinalPlasma plasma.State                   `json:"final_plasma"`
	Final       map[string]plasma.ChargeStates `json:"final"`
}

// Save writes metadata.json and samples.csv under a new run directory, plus
// trace.csv when the run recorded one.
func (s *Store) Save(name string, result *sim.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", name, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Name:        name,
		Timestamp:   now,
		Phase:       result.Phase,
		Steps:       result.Steps,
		Time:        result.Time,
		Retries:     result.Retries,
		Inputs:      result.Inputs,
		Metrics:     result.Metrics,
		FinalPlasma: result.FinalPlasma,
		Final:       result.Final,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, samplesFile), func(f *os.File) error {
		return WriteSamplesCSV(f, result.History)
	}); err != nil {
		return "", err
	}

	if len(result.Trace) > 0 {
		if err := writeFile(filepath.Join(runDir, traceFile), func(f *os.File) error {
			return WriteTraceCSV(f, result.Trace)
		}); err != nil {
			return "", err
		}
	}

	return runID, nil
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

func (s *Store) LoadSamples(runID string) (sim.History, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, samplesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadSamplesCSV(file)
}

func (s *Store) LoadTrace(runID string) ([]sim.TraceEntry, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, traceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []sim.TraceEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return parseTrace(records)
}

// LoadResult rebuilds a run result from its stored files.
func (s *Store) LoadResult(runID string) (*sim.Result, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	history, err := s.LoadSamples(runID)
	if err != nil {
		return nil, err
	}
	trace, err := s.LoadTrace(runID)
	if err != nil {
		return nil, err
	}
	if len(trace) == 0 {
		trace = nil
	}

	return &sim.Result{
		History:     history,
		Inputs:      meta.Inputs,
		Phase:       meta.Phase,
		Steps:       meta.Steps,
		Time:        meta.Time,
		FinalPlasma: meta.FinalPlasma,
		Final:       meta.Final,
		Trace:       trace,
		Metrics:     meta.Metrics,
		Retries:     meta.Retries,
	}, nil
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
