package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Init("cmeheat", Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug().Int("step", 3).Msg("advanced")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if entry["app"] != "cmeheat" || entry["message"] != "advanced" || entry["step"] != float64(3) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Init("cmeheat", Options{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
}

func TestFor(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Init("cmeheat", Options{Format: "json", Writer: &buf}); err != nil {
		t.Fatal(err)
	}

	l := For("storage")
	l.Info().Msg("saved")
	if !strings.Contains(buf.String(), `"component":"storage"`) {
		t.Errorf("missing component: %s", buf.String())
	}
}

func TestInit_Errors(t *testing.T) {
	if _, err := Init("cmeheat", Options{Level: "loud"}); err == nil {
		t.Error("expected level error")
	}
	if _, err := Init("cmeheat", Options{Format: "xml"}); err == nil {
		t.Error("expected format error")
	}
}
