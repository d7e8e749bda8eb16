// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// ExportEntry holds one claim with its verification outcome for export.
type ExportEntry struct {
	ID                  string        `json:"id" yaml:"id"`
	Text                string        `json:"text" yaml:"text"`
	CitationURL         string        `json:"citation_url" yaml:"citation_url"`
	SupportingSourceRef string        `json:"supporting_source_ref,omitempty" yaml:"supporting_source_ref,omitempty"`
	Verified            bool          `json:"verified" yaml:"verified"`
	Reason              string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Session             ExportSession `json:"session" yaml:"session"`
}

// ExportSession holds the session fields included in each export entry.
type ExportSession struct {
	ID       string `json:"id" yaml:"id"`
	Topic    string `json:"topic" yaml:"topic"`
	DraftRef string `json:"draft_ref" yaml:"draft_ref"`
}

const exportLimit = 100000

// ExportYAML writes the matching claims to path as YAML.
func (s *Store) ExportYAML(ctx context.Context, path string, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return writeExport(path, data)
}

// ExportJSON writes the matching claims to path as JSON.
func (s *Store) ExportJSON(ctx context.Context, path string, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return writeExport(path, data)
}

func writeExport(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) exportEntries(ctx context.Context, opts QueryOptions) ([]ExportEntry, error) {
	opts.MaxResults = exportLimit
	results, err := s.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportEntry, len(results))
	for i, r := range results {
		entries[i] = ExportEntry{
			ID:                  r.ID,
			Text:                r.Text,
			CitationURL:         r.CitationURL,
			SupportingSourceRef: r.SupportingSourceRef,
			Verified:            r.Verified,
			Reason:              r.Reason,
			Session: ExportSession{
				ID:       r.SessionID,
				Topic:    r.Topic,
				DraftRef: r.DraftRef,
			},
		}
	}
	return entries, nil
}
