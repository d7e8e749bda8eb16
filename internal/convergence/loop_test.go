// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convergence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/pkg/types"
)

// scriptedSteps returns the given rates from successive re-verifications and
// records every call.
type scriptedSteps struct {
	rates     []float64
	threshold float64
	reviseErr error
	calls     []string
}

func (s *scriptedSteps) Critique(context.Context) error {
	s.calls = append(s.calls, "critique")
	return nil
}

func (s *scriptedSteps) Revise(_ context.Context, i int) error {
	s.calls = append(s.calls, fmt.Sprintf("revise %d", i))
	return s.reviseErr
}

func (s *scriptedSteps) Reverify(_ context.Context, i int) (types.VerificationReport, error) {
	s.calls = append(s.calls, fmt.Sprintf("reverify %d", i))
	rate := s.rates[min(i-1, len(s.rates)-1)]
	return report(rate, s.threshold), nil
}

// report builds a summarized report over ten claims.
func report(rate, threshold float64) types.VerificationReport {
	return types.VerificationReport{
		TotalClaims:      10,
		VerifiedClaims:   int(rate*10 + 0.5),
		VerificationRate: rate,
		Threshold:        threshold,
		ThresholdMet:     rate >= threshold,
	}
}

func TestLoopReachesDoneAfterOneRevision(t *testing.T) {
	steps := &scriptedSteps{rates: []float64{0.95}, threshold: 0.90}
	loop := &Loop{Threshold: 0.90, MaxIterations: 3}

	out, err := loop.Run(context.Background(), report(0.70, 0.90), steps)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 1, out.Iterations)
	assert.True(t, out.ThresholdMet)
	assert.Equal(t, 0.95, out.Rate)
	assert.Equal(t, 1, out.BestIteration)
	if diff := cmp.Diff([]string{"critique", "revise 1", "reverify 1"}, steps.calls); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestLoopExhaustsWithoutError(t *testing.T) {
	steps := &scriptedSteps{rates: []float64{0.70}, threshold: 0.90}
	loop := &Loop{Threshold: 0.90, MaxIterations: 3}

	out, err := loop.Run(context.Background(), report(0.70, 0.90), steps)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, 3, out.Iterations)
	assert.False(t, out.ThresholdMet)
	// Equal rates: the newest draft wins.
	assert.Equal(t, 3, out.BestIteration)
	want := []string{"critique", "revise 1", "reverify 1", "revise 2", "reverify 2", "revise 3", "reverify 3"}
	if diff := cmp.Diff(want, steps.calls); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
	want2 := []Point{{0, 0.70, false}, {1, 0.70, false}, {2, 0.70, false}, {3, 0.70, false}}
	if diff := cmp.Diff(want2, out.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestLoopAlreadyAboveThreshold(t *testing.T) {
	steps := &scriptedSteps{}
	out, err := (&Loop{Threshold: 0.90, MaxIterations: 3}).Run(context.Background(), report(0.92, 0.90), steps)
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 0, out.Iterations)
	assert.Equal(t, []string{"critique"}, steps.calls)
}

func TestLoopNeverExceedsMax(t *testing.T) {
	for limit := 1; limit <= 5; limit++ {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			steps := &scriptedSteps{rates: []float64{0.1, 0.2, 0.3, 0.4, 0.5}, threshold: 1}
			out, err := (&Loop{Threshold: 1, MaxIterations: limit}).Run(context.Background(), report(0, 1), steps)
			require.NoError(t, err)
			assert.Equal(t, limit, out.Iterations)
			assert.Equal(t, StateExhausted, out.State)

			revisions := 0
			for _, c := range steps.calls {
				if len(c) > 6 && c[:6] == "revise" {
					revisions++
				}
			}
			assert.Equal(t, out.Iterations, revisions)
		})
	}
}

func TestLoopBestIterationPrefersHighestRate(t *testing.T) {
	steps := &scriptedSteps{rates: []float64{0.85, 0.80, 0.85}, threshold: 0.90}
	out, err := (&Loop{Threshold: 0.90, MaxIterations: 3}).Run(context.Background(), report(0.70, 0.90), steps)
	require.NoError(t, err)
	assert.Equal(t, 3, out.BestIteration)

	steps = &scriptedSteps{rates: []float64{0.85, 0.60}, threshold: 0.90}
	out, err = (&Loop{Threshold: 0.90, MaxIterations: 2}).Run(context.Background(), report(0.70, 0.90), steps)
	require.NoError(t, err)
	assert.Equal(t, 1, out.BestIteration)
}

func TestLoopStepErrorStops(t *testing.T) {
	boom := errors.New("executor down")
	steps := &scriptedSteps{rates: []float64{0.5}, threshold: 0.90, reviseErr: boom}
	out, err := (&Loop{Threshold: 0.90, MaxIterations: 3}).Run(context.Background(), report(0.5, 0.90), steps)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateRevising, out.State)
	assert.Equal(t, 0, out.Iterations)
}

func TestLoopRejectsZeroMax(t *testing.T) {
	_, err := (&Loop{Threshold: 0.9}).Run(context.Background(), report(0.5, 0.9), &scriptedSteps{})
	var cfgErr *types.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoopEmptyReportNeverMeetsThreshold(t *testing.T) {
	var empty types.VerificationReport
	empty.Summarize(0)
	require.False(t, empty.ThresholdMet)

	steps := &scriptedEmptySteps{}
	out, err := (&Loop{Threshold: 0, MaxIterations: 2}).Run(context.Background(), empty, steps)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, out.State)
	assert.False(t, out.ThresholdMet)
	assert.Equal(t, 2, out.Iterations)
	for _, p := range out.History {
		assert.False(t, p.ThresholdMet, "iteration %d", p.Iteration)
	}
}

// scriptedEmptySteps re-verifies every revision to an empty claim set.
type scriptedEmptySteps struct{}

func (scriptedEmptySteps) Critique(context.Context) error { return nil }
func (scriptedEmptySteps) Revise(context.Context, int) error { return nil }
func (scriptedEmptySteps) Reverify(context.Context, int) (types.VerificationReport, error) {
	var r types.VerificationReport
	r.Summarize(0)
	return r, nil
}
