// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Hypothesis is one working belief about the research topic.
type Hypothesis struct {
	ID        string  `json:"id" yaml:"id"`
	Text      string  `json:"text" yaml:"text"`
	Certitude float64 `json:"certitude" yaml:"certitude"`
	Reasoning string  `json:"reasoning" yaml:"reasoning"`
}

// HypothesisSet is one version in the hypothesis chain. Version 0 has no
// PreviousVersion; every later version points at the one before it.
type HypothesisSet struct {
	Topic           string       `json:"topic" yaml:"topic"`
	Version         int          `json:"version" yaml:"version"`
	PreviousVersion *int         `json:"previous_version,omitempty" yaml:"previous_version,omitempty"`
	Hypotheses      []Hypothesis `json:"hypotheses" yaml:"hypotheses"`
	RevisionSummary string       `json:"revision_summary,omitempty" yaml:"revision_summary,omitempty"`
	CreatedAt       time.Time    `json:"created_at" yaml:"created_at"`
}

// AverageCertitude returns the mean certitude, or 0 for an empty set.
func (s HypothesisSet) AverageCertitude() float64 {
	if len(s.Hypotheses) == 0 {
		return 0
	}
	var sum float64
	for _, h := range s.Hypotheses {
		sum += h.Certitude
	}
	return sum / float64(len(s.Hypotheses))
}
