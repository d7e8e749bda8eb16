// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageResult records one stage execution in the run result.
type StageResult struct {
	Stage      string         `json:"stage" yaml:"stage"`
	Status     StageStatus    `json:"status" yaml:"status"`
	Artifacts  []string       `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Outcome distinguishes complete success, degraded success and hard failure.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// RunResult is the cumulative result of a linear pipeline run. It is
// persisted after every stage so a partial run stays inspectable.
type RunResult struct {
	SessionID              string        `json:"session_id" yaml:"session_id"`
	Topic                  string        `json:"topic" yaml:"topic"`
	Stages                 []StageResult `json:"stages" yaml:"stages"`
	NumSources             int           `json:"num_sources" yaml:"num_sources"`
	FinalReportRef         string        `json:"final_report_ref,omitempty" yaml:"final_report_ref,omitempty"`
	FinalVerificationRate  float64       `json:"final_verification_rate" yaml:"final_verification_rate"`
	ThresholdMet           bool          `json:"threshold_met" yaml:"threshold_met"`
	RevisionIterationsUsed int           `json:"revision_iterations_used" yaml:"revision_iterations_used"`
	Outcome                Outcome       `json:"outcome" yaml:"outcome"`
	Success                bool          `json:"success" yaml:"success"`
	Error                  string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Stage returns the last recorded result for the named stage.
func (r *RunResult) Stage(name string) (StageResult, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Stage == name {
			return r.Stages[i], true
		}
	}
	return StageResult{}, false
}
