// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

var revisedRe = regexp.MustCompile(`^draft_v(\d+)\.md$`)

// Status returns the progress recorded in a session's metadata.
func Status(store *workspace.Store, sessionID string) (types.SessionStatus, error) {
	sess, err := store.Load(sessionID)
	if err != nil {
		return types.SessionStatus{}, err
	}
	return types.SessionStatus{
		Status:       sess.Status,
		CurrentStage: sess.CurrentStage,
		LastUpdated:  sess.LastUpdated,
	}, nil
}

// Result reads the persisted run result of a session.
func Result(store *workspace.Store, sessionID string) (types.RunResult, error) {
	var res types.RunResult
	if err := store.ReadYAML(sessionID, workspace.RunResultFile, &res); err != nil {
		return types.RunResult{}, err
	}
	return res, nil
}

// ReportRef picks the best available report artifact: the styled report,
// else the newest revised draft, else the initial draft. It fails with
// workspace.ErrNotFound when none exists.
func ReportRef(store *workspace.Store, sessionID string) (string, error) {
	if _, err := store.Load(sessionID); err != nil {
		return "", err
	}
	if store.IsNonEmpty(sessionID, ReportFile) {
		return ReportFile, nil
	}

	files, err := store.List(sessionID, workspace.DirRevise, "draft_v*.md")
	if err != nil {
		return "", err
	}
	newest, ref := -1, ""
	for _, f := range files {
		m := revisedRe.FindStringSubmatch(path.Base(f))
		if m == nil || !store.IsNonEmpty(sessionID, f) {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > newest {
			newest, ref = v, f
		}
	}
	if ref != "" {
		return ref, nil
	}

	if store.IsNonEmpty(sessionID, DraftFile) {
		return DraftFile, nil
	}
	return "", fmt.Errorf("report for session %s: %w", sessionID, workspace.ErrNotFound)
}

// Report returns the best available report and its session-relative path.
func Report(store *workspace.Store, sessionID string) (string, []byte, error) {
	ref, err := ReportRef(store, sessionID)
	if err != nil {
		return "", nil, err
	}
	data, err := store.Read(sessionID, ref)
	if err != nil {
		return "", nil, err
	}
	return ref, data, nil
}

// Status returns the progress of a session.
func (c *Controller) Status(sessionID string) (types.SessionStatus, error) {
	return Status(c.store, sessionID)
}

// Report returns the best available report of a session.
func (c *Controller) Report(sessionID string) (string, []byte, error) {
	return Report(c.store, sessionID)
}

// ListSessions returns every session ID in creation order.
func (c *Controller) ListSessions() ([]string, error) {
	return c.store.ListSessions()
}
