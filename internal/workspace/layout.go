// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import "github.com/pdiddy/report-engine/pkg/types"

// Linear pipeline stage directories.
const (
	DirResearch = "00_research"
	DirDraft    = "01_draft"
	DirExtract  = "02_extract"
	DirVerify   = "03_verify"
	DirCritique = "04_critique"
	DirRevise   = "05_revise"
	DirReverify = "06_reverify"
	DirStyle    = "07_style"
)

// Autonomous session stage directories.
const (
	DirAutoHypotheses = "00_hypotheses"
	DirAutoResearch   = "01_research"
	DirAutoDraft      = "02_draft"
	DirAutoExtract    = "03_extract"
	DirAutoVerify     = "04_verify"
	DirAutoCritique   = "05_critique"
	DirAutoRevise     = "06_revise"
	DirAutoFinal      = "07_final"
)

// Files kept at the top of every session directory.
const (
	MetadataFile   = "session.yaml"
	TranscriptFile = "transcript.log"
	RunResultFile  = "run_result.yaml"
)

var linearDirs = []string{
	DirResearch, DirDraft, DirExtract, DirVerify,
	DirCritique, DirRevise, DirReverify, DirStyle,
}

var autonomousDirs = []string{
	DirAutoHypotheses, DirAutoResearch, DirAutoDraft, DirAutoExtract,
	DirAutoVerify, DirAutoCritique, DirAutoRevise, DirAutoFinal,
}

// StageDirs returns the fixed stage subdirectories for a mode.
func StageDirs(mode types.Mode) []string {
	if mode == types.ModeAutonomous {
		return append([]string(nil), autonomousDirs...)
	}
	return append([]string(nil), linearDirs...)
}
