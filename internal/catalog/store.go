// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog indexes extracted claims and their verification results
// across sessions in a SQLite database with full-text search.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/report-engine/pkg/types"
)

// DefaultFile is the database file name inside the workspace root.
const DefaultFile = "catalog.db"

// Store manages the catalog database.
type Store struct {
	db         *sql.DB
	maxResults int
	now        func() time.Time
}

// Open opens or creates the catalog at path and ensures the schema exists.
func Open(path string, maxResults int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	s := &Store{db: db, maxResults: maxResults, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			mode TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			draft_ref TEXT NOT NULL,
			text TEXT NOT NULL,
			citation_url TEXT,
			supporting_source_ref TEXT,
			verified INTEGER NOT NULL DEFAULT 0,
			layer1 INTEGER NOT NULL DEFAULT 0,
			layer2 INTEGER NOT NULL DEFAULT 0,
			layer3 INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			UNIQUE(session_id, draft_ref, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_session ON claims(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_url ON claims(citation_url)`,
		`CREATE TABLE IF NOT EXISTS reports (
			session_id TEXT NOT NULL,
			draft_ref TEXT NOT NULL,
			total_claims INTEGER NOT NULL,
			verified_claims INTEGER NOT NULL,
			verification_rate REAL NOT NULL,
			threshold REAL NOT NULL,
			threshold_met INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, draft_ref)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='claims_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		return nil
	}

	// FTS4 external-content table; deletes must run before the row is gone.
	ftsStatements := []string{
		`CREATE VIRTUAL TABLE claims_fts USING fts4(content="claims", text)`,
		`CREATE TRIGGER claims_bd BEFORE DELETE ON claims BEGIN
			DELETE FROM claims_fts WHERE docid = old.rowid;
		END`,
		`CREATE TRIGGER claims_bu BEFORE UPDATE ON claims BEGIN
			DELETE FROM claims_fts WHERE docid = old.rowid;
		END`,
		`CREATE TRIGGER claims_ai AFTER INSERT ON claims BEGIN
			INSERT INTO claims_fts(docid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER claims_au AFTER UPDATE ON claims BEGIN
			INSERT INTO claims_fts(docid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, stmt := range ftsStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	return nil
}

// RecordSession upserts a session row.
func (s *Store) RecordSession(ctx context.Context, sess types.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, topic, mode, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET topic=excluded.topic, mode=excluded.mode`,
		sess.ID, sess.Topic, string(sess.Mode), sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", sess.ID, err)
	}
	return nil
}

// Record replaces the claims and verification summary stored for one draft
// of a session.
func (s *Store) Record(ctx context.Context, sessionID string, set types.ClaimSet, report types.VerificationReport) error {
	results := make(map[string]types.ClaimResult, len(report.Results))
	for _, r := range report.Results {
		results[r.ClaimID] = r
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM claims WHERE session_id = ? AND draft_ref = ?`, sessionID, set.DraftRef,
	); err != nil {
		return fmt.Errorf("deleting old claims: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO claims
			(id, session_id, draft_ref, text, citation_url, supporting_source_ref, verified, layer1, layer2, layer3, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range set.Claims {
		r := results[c.ID]
		if _, err := stmt.ExecContext(ctx,
			c.ID, sessionID, set.DraftRef, c.Text, c.CitationURL, c.SupportingSourceRef,
			r.Verified, r.Layer1URLOK, r.Layer2ContentFetched, r.Layer3ClaimSupported, r.Reason,
		); err != nil {
			return fmt.Errorf("inserting claim %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (session_id, draft_ref, total_claims, verified_claims, verification_rate, threshold, threshold_met, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, draft_ref) DO UPDATE SET
			total_claims=excluded.total_claims, verified_claims=excluded.verified_claims,
			verification_rate=excluded.verification_rate, threshold=excluded.threshold,
			threshold_met=excluded.threshold_met, recorded_at=excluded.recorded_at`,
		sessionID, set.DraftRef, report.TotalClaims, report.VerifiedClaims,
		report.VerificationRate, report.Threshold, report.ThresholdMet,
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("recording report: %w", err)
	}

	return tx.Commit()
}
