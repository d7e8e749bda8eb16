// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convergence drives the bounded critique, revise and re-verify
// cycle. The loop stops as soon as the verification rate reaches the
// threshold, or after a fixed number of revisions.
package convergence

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pdiddy/report-engine/pkg/types"
)

// State is a node of the loop's state machine.
type State string

const (
	StateCritiquing     State = "critiquing"
	StateCheckThreshold State = "check_threshold"
	StateRevising       State = "revising"
	StateReverifying    State = "reverifying"
	StateDone           State = "done"
	StateExhausted      State = "exhausted"
)

// Terminal reports whether s ends the loop.
func (s State) Terminal() bool {
	return s == StateDone || s == StateExhausted
}

// Steps performs the work behind the non-terminal states. Iterations are
// numbered from 1.
type Steps interface {
	Critique(ctx context.Context) error
	Revise(ctx context.Context, iteration int) error
	Reverify(ctx context.Context, iteration int) (types.VerificationReport, error)
}

// Point is the verification rate after a given iteration. Iteration 0 is the
// draft the loop started from.
type Point struct {
	Iteration    int     `json:"iteration" yaml:"iteration"`
	Rate         float64 `json:"rate" yaml:"rate"`
	ThresholdMet bool    `json:"threshold_met" yaml:"threshold_met"`
}

// Outcome summarizes a finished (or interrupted) loop.
type Outcome struct {
	State State `json:"state" yaml:"state"`

	// Iterations is the number of revisions performed.
	Iterations   int     `json:"iterations" yaml:"iterations"`
	Rate         float64 `json:"rate" yaml:"rate"`
	ThresholdMet bool    `json:"threshold_met" yaml:"threshold_met"`

	// BestIteration has the highest rate; ties go to the later iteration.
	BestIteration int     `json:"best_iteration" yaml:"best_iteration"`
	History       []Point `json:"history" yaml:"history"`
}

// Loop holds the loop bounds.
type Loop struct {
	Threshold     float64
	MaxIterations int
	Logger        *slog.Logger
}

// Run executes the state machine starting in Critiquing with the rate from
// initial. Whether the threshold is met comes from each report, so an empty
// claim set never counts as met. Exhausted is a normal result, not an error. A step error stops
// the loop and is returned along with the outcome so far.
func (l *Loop) Run(ctx context.Context, initial types.VerificationReport, steps Steps) (Outcome, error) {
	if l.MaxIterations < 1 {
		return Outcome{}, &types.ConfigError{Field: "max_revision_iterations", Reason: fmt.Sprintf("%d must be at least 1", l.MaxIterations)}
	}
	log := l.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	out := Outcome{
		State:        StateCritiquing,
		Rate:         initial.VerificationRate,
		ThresholdMet: initial.ThresholdMet,
		History:      []Point{{Iteration: 0, Rate: initial.VerificationRate, ThresholdMet: initial.ThresholdMet}},
	}

	for !out.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		prev := out.State

		switch out.State {
		case StateCritiquing:
			if err := steps.Critique(ctx); err != nil {
				return out, fmt.Errorf("critique: %w", err)
			}
			out.State = StateCheckThreshold

		case StateCheckThreshold:
			switch {
			case out.ThresholdMet:
				out.State = StateDone
			case out.Iterations >= l.MaxIterations:
				out.State = StateExhausted
			default:
				out.State = StateRevising
			}

		case StateRevising:
			if err := steps.Revise(ctx, out.Iterations+1); err != nil {
				return out, fmt.Errorf("revision %d: %w", out.Iterations+1, err)
			}
			out.State = StateReverifying

		case StateReverifying:
			report, err := steps.Reverify(ctx, out.Iterations+1)
			if err != nil {
				return out, fmt.Errorf("re-verification %d: %w", out.Iterations+1, err)
			}
			out.Iterations++
			out.Rate = report.VerificationRate
			out.ThresholdMet = report.ThresholdMet
			out.History = append(out.History, Point{
				Iteration:    out.Iterations,
				Rate:         report.VerificationRate,
				ThresholdMet: report.ThresholdMet,
			})
			if out.Rate >= out.History[out.BestIteration].Rate {
				out.BestIteration = out.Iterations
			}
			out.State = StateCheckThreshold
		}

		log.Debug("convergence transition", "from", string(prev), "to", string(out.State),
			"iteration", out.Iterations, "rate", out.Rate)
	}

	log.Info("convergence finished", "state", string(out.State), "iterations", out.Iterations,
		"rate", out.Rate, "threshold", l.Threshold)
	return out, nil
}
