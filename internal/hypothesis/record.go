// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hypothesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/pkg/types"
)

// RecordToolName is the tool the agent records a hypothesis set with.
const RecordToolName = "record_hypotheses"

// recorder captures the last valid set passed to the record tool.
type recorder struct {
	mu         sync.Mutex
	hypotheses []types.Hypothesis
	summary    string
	done       bool
}

func (r *recorder) recorded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *recorder) tool() agent.Tool {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":        agent.StringProp("stable identifier such as h1; keep it when revising"),
			"text":      agent.StringProp("the hypothesis"),
			"certitude": map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "belief between 0 and 1"},
			"reasoning": agent.StringProp("why this certitude"),
		},
		"required": []string{"text", "certitude"},
	}
	return agent.Tool{
		Name:        RecordToolName,
		Description: "Record the complete hypothesis set. A later call replaces an earlier one.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hypotheses":       map[string]any{"type": "array", "items": item},
				"revision_summary": agent.StringProp("what changed since the previous version"),
			},
			"required": []string{"hypotheses"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Hypotheses      []types.Hypothesis `json:"hypotheses"`
				RevisionSummary string             `json:"revision_summary"`
			}
			if err := agent.DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			hs, err := normalize(args.Hypotheses)
			if err != nil {
				return "", err
			}

			r.mu.Lock()
			r.hypotheses = hs
			r.summary = strings.TrimSpace(args.RevisionSummary)
			r.done = true
			r.mu.Unlock()

			avg := types.HypothesisSet{Hypotheses: hs}.AverageCertitude()
			return fmt.Sprintf("recorded %d hypotheses, average certitude %.2f", len(hs), avg), nil
		},
	}
}

// normalize validates a submitted set and fills missing ids.
func normalize(in []types.Hypothesis) ([]types.Hypothesis, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one hypothesis is required")
	}
	seen := make(map[string]bool, len(in))
	out := make([]types.Hypothesis, 0, len(in))
	for i, h := range in {
		h.Text = strings.TrimSpace(h.Text)
		if h.Text == "" {
			return nil, fmt.Errorf("hypothesis %d: empty text", i+1)
		}
		if h.Certitude < 0 || h.Certitude > 1 {
			return nil, fmt.Errorf("hypothesis %d: certitude %v out of range [0,1]", i+1, h.Certitude)
		}
		h.ID = strings.TrimSpace(h.ID)
		if h.ID == "" {
			h.ID = fmt.Sprintf("h%d", i+1)
		}
		if seen[h.ID] {
			return nil, fmt.Errorf("hypothesis %d: duplicate id %q", i+1, h.ID)
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out, nil
}

func marshal(set types.HypothesisSet) ([]byte, error) {
	data, err := yaml.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshaling hypotheses v%d: %w", set.Version, err)
	}
	return data, nil
}
