// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"path"
	"text/template"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/extract"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Step names as recorded in run results and the transcript.
const (
	NameResearch = "research"
	NameDraft    = "draft"
	NameExtract  = "extract"
	NameVerify   = "verify"
	NameCritique = "critique"
	NameRevise   = "revise"
	NameReverify = "reverify"
	NameStyle    = "style"
)

const writerSystem = `You are a careful research writer working inside a session workspace.
You can only affect the workspace through your tools. Every factual statement you write must cite a source URL.
When the requested file has been written, reply with a one-line summary and stop calling tools.`

var draftTmpl = template.Must(template.New("draft").Parse(`Write a long-form report draft on the topic:

  {{.Topic}}

Research notes are in these files; read all of them first:
{{range .Sources}}  - {{.}}
{{end}}{{if .Hypotheses}}
Working hypotheses are in {{.Hypotheses}}; organize the report around them.
{{end}}
Requirements:
- Markdown, with a title and section headings.
- Cite sources inline with numbered references like [1], [2].
- End with a "## References" section listing each number with its title and full URL, e.g. "[1] Title. https://...".
- Only cite URLs that appear in the research notes.

Write the draft with write_file using the name {{.Name}}.
`))

var extractTmpl = template.Must(template.New("extract").Parse(`Read the draft at {{.Draft}} and extract every checkable factual claim it makes.

For each claim give:
- text: the claim as a standalone sentence
- citation_url: the URL the draft cites for it, or its reference number
- supporting_source_ref: the research note the claim most likely came from, if you can tell

Skip opinions, definitions and transitions. Submit the claims with {{.Tool}}. You may submit in batches.
If the draft makes no checkable claims, call {{.Tool}} once with an empty list.
`))

var critiqueTmpl = template.Must(template.New("critique").Parse(`Critique the report draft at {{.Draft}} on the topic "{{.Topic}}".

The verification results for its claims are in {{.Verification}}. Claims that failed verification either cite a page that does not answer, a page whose content could not be fetched, or a page that does not support them.

Write a critique that lists, in priority order:
1. Each failed claim and what should be done about it (fix the citation, soften, or remove).
2. Gaps in coverage and structure.
3. Statements that need a citation but have none.

Write it with write_file using the name {{.Name}}.
`))

var reviseTmpl = template.Must(template.New("revise").Parse(`Revise the report draft on "{{.Topic}}". This is revision {{.Iteration}}.

Inputs:
- current draft: {{.Draft}}
- critique: {{.Critique}}
- latest verification results: {{.Verification}}

Fix or remove every claim that failed verification. You may fetch pages to find better sources.
Keep numbered citations and the "## References" section with full URLs.
Do not modify the input files. Write the complete revised draft with write_file using the name {{.Name}}.
`))

var styleTmpl = template.Must(template.New("style").Parse(`Produce the final report on "{{.Topic}}" from the draft at {{.Draft}}.

Style: {{.StyleName}}. {{.StyleGuide}}

Do not add, remove or change factual claims or citations; only improve voice, flow and formatting.
Keep the "## References" section intact. Write it with write_file using the name {{.Name}}.
`))

var styleGuides = map[types.StyleGuide]string{
	types.StyleTechnical:      "Precise and neutral. Short paragraphs, tables for figures, no marketing language.",
	types.StyleConversational: "Plain language for a general reader. Explain jargon the first time it appears.",
	types.StyleAcademic:       "Formal register with an abstract, a methods note on sources, and hedged conclusions.",
	types.StyleDeFiReport:     "An investor-facing DeFi brief: executive summary, protocol-by-protocol yields and TVL, risks, and an outlook.",
}

// DraftInput configures the draft step.
type DraftInput struct {
	Topic      string
	Sources    []string
	Hypotheses string
	Output     string
}

// Draft writes the first draft from the research sources.
func Draft(in DraftInput) Spec {
	return Spec{
		Name:         NameDraft,
		Tier:         agent.TierStandard,
		Capabilities: []agent.Capability{agent.CapRead, agent.CapWrite},
		Inputs:       in.Sources,
		Output:       in.Output,
		System:       writerSystem,
		Prompt:       draftTmpl,
		Data: struct {
			DraftInput
			Name string
		}{in, path.Base(in.Output)},
	}
}

// ExtractInput configures the extract step.
type ExtractInput struct {
	Draft  string
	Output string
}

// Extract builds the claim extraction step for one draft. Claims are
// submitted through a tool and saved to Output as a claim set.
func Extract(store *workspace.Store, sessionID string, in ExtractInput) (Spec, error) {
	data, err := store.Read(sessionID, in.Draft)
	if err != nil {
		return Spec{}, err
	}
	tool := extract.SubmitTool(in.Draft, string(data), func(set types.ClaimSet) error {
		return extract.Save(store, sessionID, in.Output, set)
	})
	return Spec{
		Name:         NameExtract,
		Tier:         agent.TierStandard,
		Capabilities: []agent.Capability{agent.CapRead},
		Inputs:       []string{in.Draft},
		Output:       in.Output,
		System:       "You extract verifiable factual claims from report drafts. Submit claims only through the provided tool.",
		Prompt:       extractTmpl,
		Data: struct {
			Draft, Tool string
		}{in.Draft, extract.SubmitToolName},
		Tools: []agent.Tool{tool},
	}, nil
}

// CritiqueInput configures the critique step.
type CritiqueInput struct {
	Topic        string
	Draft        string
	Verification string
	Output       string
}

// Critique reviews a draft against its verification results.
func Critique(in CritiqueInput) Spec {
	return Spec{
		Name:         NameCritique,
		Tier:         agent.TierStandard,
		Capabilities: []agent.Capability{agent.CapRead, agent.CapWrite},
		Inputs:       []string{in.Draft, in.Verification},
		Output:       in.Output,
		System:       writerSystem,
		Prompt:       critiqueTmpl,
		Data: struct {
			CritiqueInput
			Name string
		}{in, path.Base(in.Output)},
	}
}

// ReviseInput configures one revision.
type ReviseInput struct {
	Topic        string
	Iteration    int
	Draft        string
	Critique     string
	Verification string
	Output       string
}

// Revise writes a new draft version. The input draft is never overwritten.
func Revise(in ReviseInput) Spec {
	return Spec{
		Name:         NameRevise,
		Tier:         agent.TierDeep,
		Capabilities: []agent.Capability{agent.CapRead, agent.CapWrite, agent.CapWeb},
		Inputs:       []string{in.Draft, in.Critique, in.Verification},
		Output:       in.Output,
		System:       writerSystem,
		Prompt:       reviseTmpl,
		Data: struct {
			ReviseInput
			Name string
		}{in, path.Base(in.Output)},
	}
}

// StyleInput configures the style step.
type StyleInput struct {
	Topic  string
	Draft  string
	Style  types.StyleGuide
	Output string
}

// Style rewrites the chosen draft in the session's style guide.
func Style(in StyleInput) Spec {
	return Spec{
		Name:         NameStyle,
		Tier:         agent.TierStandard,
		Capabilities: []agent.Capability{agent.CapRead, agent.CapWrite},
		Inputs:       []string{in.Draft},
		Output:       in.Output,
		System:       writerSystem,
		Prompt:       styleTmpl,
		Data: struct {
			Topic, Draft, StyleName, StyleGuide, Name string
		}{in.Topic, in.Draft, string(in.Style), styleGuides[in.Style], path.Base(in.Output)},
	}
}
