// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package autonomous

import (
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/pdiddy/report-engine/internal/workspace"
)

var revisedRe = regexp.MustCompile(`^draft_v(\d+)\.md$`)

// ReportRef picks the best report artifact of an autonomous session: the
// final report, else the newest revised draft, else the first draft.
func ReportRef(store *workspace.Store, sessionID string) (string, error) {
	if _, err := store.Load(sessionID); err != nil {
		return "", err
	}
	if store.IsNonEmpty(sessionID, FinalReportFile) {
		return FinalReportFile, nil
	}
	files, err := store.List(sessionID, workspace.DirAutoRevise, "draft_v*.md")
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
