// Package report flattens executed graphs into a printable result.
package report

import (
	"errors"
	"sort"
	"time"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/graph"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Run modes.
const (
	ModeRun     = "run"
	ModeAnalyze = "analyze"
)

// maxErrorLength bounds error text in rows; compiled queries echoed by drivers can
// be very long.
const maxErrorLength = 300

// Row is one attempted relation.
type Row struct {
	Relation        string `json:"relation" yaml:"relation"`
	Materialization string `json:"materialization" yaml:"materialization"`
	Graph           int    `json:"graph" yaml:"graph"`
	PopulationSize  int64  `json:"population_size" yaml:"population_size"`
	SampleSize      int64  `json:"sample_size" yaml:"sample_size"`
	Status          string `json:"status" yaml:"status"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary totals a result.
type Summary struct {
	Graphs       int    `json:"graphs" yaml:"graphs"`
	FailedGraphs int    `json:"failed_graphs" yaml:"failed_graphs"`
	Relations    int    `json:"relations" yaml:"relations"`
	Loaded       int    `json:"loaded" yaml:"loaded"`
	Analyzed     int    `json:"analyzed" yaml:"analyzed"`
	Unsampled    int    `json:"unsampled" yaml:"unsampled"`
	Failed       int    `json:"failed" yaml:"failed"`
	Skipped      int    `json:"skipped" yaml:"skipped"`
	RowsSampled  int64  `json:"rows_sampled" yaml:"rows_sampled"`
	Elapsed      string `json:"elapsed" yaml:"elapsed"`
}

// Result is everything reported about one run.
type Result struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Mode       string    `json:"mode" yaml:"mode"`
	Source     string    `json:"source" yaml:"source"`
	Target     string    `json:"target,omitempty" yaml:"target,omitempty"`
	Method     string    `json:"sample_method" yaml:"sample_method"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Summary    Summary   `json:"summary" yaml:"summary"`
	Rows       []Row     `json:"relations" yaml:"relations"`
}

// Flatten returns one row per relation of every graph, sorted by name.
func Flatten(graphs []*graph.DependencyGraph) []Row {
	var rows []Row
	for _, g := range graphs {
		for _, rel := range g.Relations() {
			rows = append(rows, Row{
				Relation:        rel.DotNotation(),
				Materialization: string(rel.Materialization),
				Graph:           g.ID,
				PopulationSize:  rel.PopulationSize,
				SampleSize:      rel.SampleSize,
				Status:          string(rel.Status),
				Error:           errorText(rel.Err),
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Relation < rows[j].Relation })
	return rows
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, apperrors.ErrSkipped) {
		return err.Error()
	}
	return logging.TruncateString(logging.SanitizeError(err), maxErrorLength)
}

// Summarize totals rows and graphs.
func Summarize(graphs []*graph.DependencyGraph, rows []Row, elapsed time.Duration) Summary {
	s := Summary{Graphs: len(graphs), Relations: len(rows), Elapsed: elapsed.Round(time.Millisecond).String()}
	for _, g := range graphs {
		if g.Failed() {
			s.FailedGraphs++
		}
	}
	for _, r := range rows {
		switch models.RelationStatus(r.Status) {
		case models.RelationStatusLoaded:
			s.Loaded++
			s.RowsSampled += r.SampleSize
		case models.RelationStatusAnalyzed:
			s.Analyzed++
			s.RowsSampled += r.SampleSize
		case models.RelationStatusUnsampled:
			s.Unsampled++
		case models.RelationStatusFailed:
			s.Failed++
		case models.RelationStatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// NewResult flattens graphs into a Result.
func NewResult(runID, mode string, graphs []*graph.DependencyGraph, started, finished time.Time) *Result {
	rows := Flatten(graphs)
	return &Result{
		RunID:      runID,
		Mode:       mode,
		StartedAt:  started,
		FinishedAt: finished,
		Summary:    Summarize(graphs, rows, finished.Sub(started)),
		Rows:       rows,
	}
}

// Failed reports whether any relation failed.
func (r *Result) Failed() bool {
	return r.Summary.Failed > 0 || r.Summary.FailedGraphs > 0
}
