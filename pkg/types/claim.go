// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Claim is a factual assertion extracted from one draft, with the citation
// that is supposed to back it.
type Claim struct {
	// ID is a stable digest of the draft reference, text and citation.
	ID string `json:"id" yaml:"id"`

	// Text is the claim as stated in the draft.
	Text string `json:"text" yaml:"text"`

	// CitationURL is the cited page.
	CitationURL string `json:"citation_url" yaml:"citation_url"`

	// SupportingSourceRef names the research source the claim came from
	// (e.g. "source_2.md"), if known.
	SupportingSourceRef string `json:"supporting_source_ref,omitempty" yaml:"supporting_source_ref,omitempty"`
}

// ClaimSet is the claims derived from exactly one draft. A revised draft
// yields a new ClaimSet.
type ClaimSet struct {
	// DraftRef is the session-relative path of the draft.
	DraftRef string  `json:"draft_ref" yaml:"draft_ref"`
	Claims   []Claim `json:"claims" yaml:"claims"`
}

// ClaimResult records the outcome of each verification layer for one claim.
// A later layer is only attempted when the earlier ones passed.
type ClaimResult struct {
	ClaimID              string `json:"claim_id" yaml:"claim_id"`
	Layer1URLOK          bool   `json:"layer1_url_ok" yaml:"layer1_url_ok"`
	Layer2ContentFetched bool   `json:"layer2_content_fetched" yaml:"layer2_content_fetched"`
	Layer3ClaimSupported bool   `json:"layer3_claim_supported" yaml:"layer3_claim_supported"`
	Verified             bool   `json:"verified" yaml:"verified"`

	// Reason explains the first failing layer.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// VerificationReport aggregates per-claim results for one claim set.
type VerificationReport struct {
	DraftRef         string        `json:"draft_ref" yaml:"draft_ref"`
	Results          []ClaimResult `json:"results" yaml:"results"`
	TotalClaims      int           `json:"total_claims" yaml:"total_claims"`
	VerifiedClaims   int           `json:"verified_claims" yaml:"verified_claims"`
	VerificationRate float64       `json:"verification_rate" yaml:"verification_rate"`
	Threshold        float64       `json:"threshold" yaml:"threshold"`
	ThresholdMet     bool          `json:"threshold_met" yaml:"threshold_met"`
}

// Summarize fills the aggregate fields from Results. The rate is zero for an
// empty claim set, and so is threshold_met.
func (r *VerificationReport) Summarize(threshold float64) {
	r.TotalClaims = len(r.Results)
	r.VerifiedClaims = 0
	for _, res := range r.Results {
		if res.Verified {
			r.VerifiedClaims++
		}
	}
	r.Threshold = threshold
	if r.TotalClaims == 0 {
		r.VerificationRate = 0
		r.ThresholdMet = false
		return
	}
	r.VerificationRate = float64(r.VerifiedClaims) / float64(r.TotalClaims)
	r.ThresholdMet = r.VerificationRate >= threshold
}
