// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/report-engine/pkg/types"
)

// QueryOptions holds parameters for catalog queries.
type QueryOptions struct {
	// Query is a full-text search string.
	Query string

	// SessionID filters by session.
	SessionID string

	// Verified filters by verification outcome when non-nil.
	Verified *bool

	// URL filters by cited URL.
	URL string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.SessionID == "" && q.Verified == nil && q.URL == ""
}

// Result is one stored claim with its verification outcome and session topic.
type Result struct {
	types.Claim
	SessionID string `json:"session_id" yaml:"session_id"`
	Topic     string `json:"topic" yaml:"topic"`
	DraftRef  string `json:"draft_ref" yaml:"draft_ref"`
	Verified  bool   `json:"verified" yaml:"verified"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Search queries claims with optional full-text search and filters. Results
// are newest first.
func (s *Store) Search(ctx context.Context, opts QueryOptions) ([]Result, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(
		`SELECT c.id, c.text, c.citation_url, c.supporting_source_ref,
			c.session_id, c.draft_ref, c.verified, c.reason, s.topic
		FROM claims c
		LEFT JOIN sessions s ON s.id = c.session_id
		WHERE 1=1`)

	if opts.Query != "" {
		qb.WriteString(` AND c.rowid IN (SELECT docid FROM claims_fts WHERE claims_fts MATCH ?)`)
		args = append(args, opts.Query)
	}
	if opts.SessionID != "" {
		qb.WriteString(` AND c.session_id = ?`)
		args = append(args, opts.SessionID)
	}
	if opts.Verified != nil {
		qb.WriteString(` AND c.verified = ?`)
		args = append(args, *opts.Verified)
	}
	if opts.URL != "" {
		qb.WriteString(` AND c.citation_url = ?`)
		args = append(args, opts.URL)
	}
	qb.WriteString(` ORDER BY c.rowid DESC LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                       Result
			url, ref, reason, topic sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Text, &url, &ref, &r.SessionID, &r.DraftRef, &r.Verified, &reason, &topic); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.CitationURL = url.String
		r.SupportingSourceRef = ref.String
		r.Reason = reason.String
		r.Topic = topic.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// ReportRow is the stored verification summary for one draft.
type ReportRow struct {
	SessionID        string    `json:"session_id" yaml:"session_id"`
	DraftRef         string    `json:"draft_ref" yaml:"draft_ref"`
	TotalClaims      int       `json:"total_claims" yaml:"total_claims"`
	VerifiedClaims   int       `json:"verified_claims" yaml:"verified_claims"`
	VerificationRate float64   `json:"verification_rate" yaml:"verification_rate"`
	ThresholdMet     bool      `json:"threshold_met" yaml:"threshold_met"`
	RecordedAt       time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Reports returns the verification summaries of a session in recording order.
func (s *Store) Reports(ctx context.Context, sessionID string) ([]ReportRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, draft_ref, total_claims, verified_claims, verification_rate, threshold_met, recorded_at
		 FROM reports WHERE session_id = ? ORDER BY recorded_at, draft_ref`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var (
			r  ReportRow
			at string
		)
		if err := rows.Scan(&r.SessionID, &r.DraftRef, &r.TotalClaims, &r.VerifiedClaims, &r.VerificationRate, &r.ThresholdMet, &at); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
