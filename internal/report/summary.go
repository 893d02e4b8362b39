package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxeltest.ai/internal/gametest"
)

//go:embed summary.schema.json
var summarySchemaJSON string

const summarySchemaURL = "https://voxeltest.ai/schemas/summary.schema.json"

var (
	summarySchemaOnce sync.Once
	summarySchema     *jsonschema.Schema
	summarySchemaErr  error
)

func compiledSummarySchema() (*jsonschema.Schema, error) {
	summarySchemaOnce.Do(func() {
		summarySchema, summarySchemaErr = jsonschema.CompileString(summarySchemaURL, summarySchemaJSON)
	})
	return summarySchema, summarySchemaErr
}

type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Halted     bool           `json:"halted"`
	Counts     Counts         `json:"counts"`
	Tests      []TestResult   `json:"tests"`
	Flaky      []FlakyVerdict `json:"flaky,omitempty"`
}

// Counts are per test name: only the last attempt of a test, or the verdict
// of a flaky test, is counted.
type Counts struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	FailedRequired int `json:"failed_required"`
	FailedOptional int `json:"failed_optional"`
	NotRun         int `json:"not_run"`
}

type TestResult struct {
	Name       string `json:"name"`
	Class      string `json:"class"`
	Batch      string `json:"batch"`
	Attempt    int    `json:"attempt"`
	Required   bool   `json:"required"`
	State      string `json:"state"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Ticks      int64  `json:"ticks"`
	Rerun      bool   `json:"rerun,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Origin     [3]int `json:"origin"`
}

type FlakyVerdict struct {
	Name              string `json:"name"`
	Attempts          int    `json:"attempts"`
	Successes         int    `json:"successes"`
	RequiredSuccesses int    `json:"required_successes"`
	Passed            bool   `json:"passed"`
	Error             string `json:"error,omitempty"`
}

// Build summarizes everything the runner has executed.
func Build(runID string, r *gametest.Runner, started, finished time.Time) Summary {
	s := Summary{
		RunID:      runID,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		DurationMs: max(0, finished.Sub(started).Milliseconds()),
		Halted:     r.Halted(),
		Tests:      []TestResult{},
	}

	last := map[string]*gametest.Instance{}
	var order []string
	for _, inst := range r.Instances() {
		if _, ok := last[inst.Name()]; !ok {
			order = append(order, inst.Name())
		}
		last[inst.Name()] = inst
		s.Tests = append(s.Tests, resultOf(inst))
	}

	verdicts := map[string]gametest.Verdict{}
	for _, v := range r.FlakyVerdicts() {
		verdicts[v.Test] = v
		fv := FlakyVerdict{
			Name:              v.Test,
			Attempts:          v.Attempts,
			Successes:         v.Successes,
			RequiredSuccesses: v.RequiredSuccesses,
			Passed:            v.Passed,
		}
		if v.Err != nil {
			fv.Error = v.Err.Error()
		}
		s.Flaky = append(s.Flaky, fv)
	}

	for _, name := range order {
		inst := last[name]
		s.Counts.Total++
		passed, done := inst.Passed(), inst.Done()
		if v, ok := verdicts[name]; ok {
			passed, done = v.Passed, true
		}
		switch {
		case !done:
			s.Counts.NotRun++
		case passed:
			s.Counts.Passed++
		case inst.Required():
			s.Counts.FailedRequired++
		default:
			s.Counts.FailedOptional++
		}
	}
	return s
}

func resultOf(inst *gametest.Instance) TestResult {
	def := inst.Definition()
	o := inst.Origin()
	tr := TestResult{
		Name:     inst.Name(),
		Class:    def.Class,
		Batch:    def.Batch,
		Attempt:  inst.Attempt(),
		Required: inst.Required(),
		State:    inst.State().String(),
		Ticks:    inst.Tick(),
		Rerun:    inst.RerunScheduled(),
		Origin:   [3]int{o.X, o.Y, o.Z},
	}
	if inst.Done() {
		tr.DurationMs = inst.Duration().Milliseconds()
	}
	if err := inst.Err(); err != nil {
		tr.Code = gametest.Code(err)
		tr.Error = err.Error()
	}
	return tr
}

// Validate checks s against the embedded summary schema.
func (s Summary) Validate() error {
	schema, err := compiledSummarySchema()
	if err != nil {
		return fmt.Errorf("compile summary schema: %w", err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return nil
}

// WriteSummary validates s and writes it as indented JSON.
func WriteSummary(w io.Writer, s Summary) error {
	if err := s.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
