// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research fans a topic out to independent research workers. Each
// worker writes one source note; the coordinator waits for every worker to
// settle and then collects whatever notes were produced.
package research

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// angles spread workers across different aspects of the topic.
var angles = []string{
	"current figures, metrics and market data",
	"how the underlying protocols and mechanisms work",
	"risks, incidents and criticisms",
	"recent announcements and timeline of events",
	"regulation, governance and institutional involvement",
	"comparisons with competing platforms",
	"adoption, users and ecosystem participants",
	"expert and analyst commentary",
	"technical documentation and primary sources",
	"outlook and open questions",
}

const workerSystem = `You are a research assistant. Find reliable, current sources on the web and write concise notes.
Every fact in your notes must be followed by the URL it came from. Prefer primary sources.
When your notes file is written, reply with a one-line summary and stop.`

var workerTmpl = template.Must(template.New("worker").Parse(`Research the topic:

  {{.Topic}}

You are worker {{.Index}} of {{.Total}}. Focus on: {{.Angle}}.{{if .Focus}}
Additional direction: {{.Focus}}{{end}}

Use fetch_url to read pages. Write your notes as Markdown with write_file using the name {{.Name}}.
List every source URL you used at the end under "## Sources".
`))

// Failure records a worker that produced nothing.
type Failure struct {
	Worker int    `json:"worker" yaml:"worker"`
	Error  string `json:"error" yaml:"error"`
}

// Result is the outcome of one fan-out.
type Result struct {
	Requested int       `json:"requested" yaml:"requested"`
	Sources   []string  `json:"sources" yaml:"sources"`
	Failures  []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// NumSources returns the number of source notes produced.
func (r Result) NumSources() int { return len(r.Sources) }

// Shortfall reports how many requested sources are missing.
func (r Result) Shortfall() int { return r.Requested - len(r.Sources) }

// Coordinator runs research workers through an executor.
type Coordinator struct {
	exec   agent.Executor
	store  *workspace.Store
	logger *slog.Logger
}

// NewCoordinator builds a Coordinator. A nil logger discards output.
func NewCoordinator(exec agent.Executor, store *workspace.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{exec: exec, store: store, logger: logger}
}

// SourceName returns the note file name for worker i (1-based).
func SourceName(i int) string {
	return fmt.Sprintf("source_%d.md", i)
}

// Run starts exactly n workers concurrently, each writing SourceName(i) into
// dir, and returns once all of them have settled. Workers cannot read the
// workspace, so none sees another's notes. A worker that fails contributes
// nothing; the run fails only when no worker produced a note.
func (c *Coordinator) Run(ctx context.Context, sessionID, dir, topic string, n int, focus string) (Result, error) {
	if err := types.ValidateNumResearchers(n); err != nil {
		return Result{}, err
	}
	scope, err := c.store.Scope(sessionID)
	if err != nil {
		return Result{}, err
	}

	errs := make([]error, n)
	var g errgroup.Group
	for i := 1; i <= n; i++ {
		g.Go(func() error {
			msg, err := stage.Render(workerTmpl, struct {
				Topic, Angle, Focus, Name string
				Index, Total              int
			}{topic, angles[(i-1)%len(angles)], focus, SourceName(i), i, n})
			if err != nil {
				errs[i-1] = err
				return nil
			}
			req := agent.Request{
				Tier:         agent.TierFast,
				Capabilities: []agent.Capability{agent.CapWrite, agent.CapWeb},
				Scope:        scope,
				WriteDir:     dir,
				System:       workerSystem,
				Message:      msg,
			}
			label := fmt.Sprintf("%s/%d", stage.NameResearch, i)
			errs[i-1] = stage.Execute(ctx, c.exec, c.store, sessionID, label, req)
			return nil
		})
	}
	g.Wait()

	res := Result{Requested: n}
	for i := 1; i <= n; i++ {
		rel := path.Join(dir, SourceName(i))
		if c.store.IsNonEmpty(sessionID, rel) {
			res.Sources = append(res.Sources, rel)
			continue
		}
		reason := "no notes written"
		if errs[i-1] != nil {
			reason = errs[i-1].Error()
		}
		res.Failures = append(res.Failures, Failure{Worker: i, Error: reason})
		c.logger.Warn("research worker produced nothing", "session", sessionID, "worker", i, "reason", reason)
	}

	if res.NumSources() == 0 {
		return res, &stage.OutputMissingError{Stage: stage.NameResearch, Artifact: path.Join(dir, "source_*.md")}
	}
	if res.Shortfall() > 0 {
		c.store.AppendLog(sessionID, workspace.LevelWarn,
			fmt.Sprintf("research produced %d of %d sources", res.NumSources(), n))
	}
	c.logger.Info("research finished", "session", sessionID, "requested", n, "sources", res.NumSources())
	return res, nil
}

// Sources lists the non-empty source notes in dir ordered by worker index.
func Sources(store *workspace.Store, sessionID, dir string) ([]string, error) {
	files, err := store.List(sessionID, dir, "source_*.md")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if store.IsNonEmpty(sessionID, f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return sourceIndex(out[a]) < sourceIndex(out[b]) })
	return out, nil
}

func sourceIndex(rel string) int {
	name := strings.TrimSuffix(strings.TrimPrefix(path.Base(rel), "source_"), ".md")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 1 << 30
	}
	return n
}
