// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/pdiddy/report-engine/internal/httputil"
	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/pkg/types"
)

func TestMain(m *testing.M) {
	backoffBase = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) Supports(_ context.Context, claim types.Claim, content string) (Verdict, error) {
	args := m.Called(claim.ID, content)
	return args.Get(0).(Verdict), args.Error(1)
}

func citedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>Blend pools paid 7.2% APY on USDC.</p></body></html>`))
	})
	mux.HandleFunc("/headless", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Aquarius rewards were halved in March."))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><script>x()</script></body></html>`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestVerifyLayersShortCircuit(t *testing.T) {
	ts := citedServer(t)
	judge := &mockJudge{}
	judge.On("Supports", "c1", mock.Anything).Return(Verdict{Supported: true, Reason: "stated"}, nil)
	judge.On("Supports", "c4", mock.Anything).Return(Verdict{Supported: false, Reason: "different figure"}, nil)
	judge.On("Supports", "c6", mock.Anything).Return(Verdict{Supported: true}, nil)

	engine := NewEngine(
		&HTTPProber{Client: ts.Client()},
		&PageFetcher{Fetcher: &webtext.Fetcher{Client: ts.Client()}},
		judge,
		WithConcurrency(3),
	)

	set := types.ClaimSet{DraftRef: "01_draft/draft.md", Claims: []types.Claim{
		{ID: "c1", Text: "Blend paid 7.2%", CitationURL: ts.URL + "/ok"},
		{ID: "c2", Text: "missing page", CitationURL: ts.URL + "/missing"},
		{ID: "c3", Text: "empty page", CitationURL: ts.URL + "/empty"},
		{ID: "c4", Text: "Blend paid 9%", CitationURL: ts.URL + "/ok"},
		{ID: "c5", Text: "uncited"},
		{ID: "c6", Text: "Aquarius halved", CitationURL: ts.URL + "/headless"},
	}}

	report, err := engine.Verify(context.Background(), set, 0.9)
	require.NoError(t, err)

	tests := []struct {
		id                   string
		l1, l2, l3, verified bool
	}{
		{"c1", true, true, true, true},
		{"c2", false, false, false, false},
		{"c3", true, false, false, false},
		{"c4", true, true, false, false},
		{"c5", false, false, false, false},
		{"c6", true, true, true, true},
	}
	require.Len(t, report.Results, len(tests))
	for i, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r := report.Results[i]
			assert.Equal(t, tt.id, r.ClaimID)
			assert.Equal(t, tt.l1, r.Layer1URLOK)
			assert.Equal(t, tt.l2, r.Layer2ContentFetched)
			assert.Equal(t, tt.l3, r.Layer3ClaimSupported)
			assert.Equal(t, tt.verified, r.Verified)
			if !tt.verified {
				assert.NotEmpty(t, r.Reason)
			}
		})
	}

	assert.Equal(t, 6, report.TotalClaims)
	assert.Equal(t, 2, report.VerifiedClaims)
	assert.InDelta(t, 2.0/6.0, report.VerificationRate, 1e-9)
	assert.False(t, report.ThresholdMet)
	assert.Equal(t, "01_draft/draft.md", report.DraftRef)

	judge.AssertNumberOfCalls(t, "Supports", 3)
	judge.AssertNotCalled(t, "Supports", "c2", mock.Anything)
	judge.AssertNotCalled(t, "Supports", "c3", mock.Anything)
}

func TestVerifyEmptySet(t *testing.T) {
	engine := NewEngine(&HTTPProber{}, &PageFetcher{}, &mockJudge{})
	report, err := engine.Verify(context.Background(), types.ClaimSet{DraftRef: "01_draft/draft.md"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalClaims)
	assert.Equal(t, 0.0, report.VerificationRate)
	assert.False(t, report.ThresholdMet)
}

func TestVerifyThresholdMet(t *testing.T) {
	engine := NewEngine(
		proberFunc(func(context.Context, string) error { return nil }),
		fetcherFunc(func(context.Context, string) (string, error) { return "text", nil }),
		judgeFunc(func(_ context.Context, c types.Claim, _ string) (Verdict, error) {
			if c.ID == "bad" {
				return Verdict{}, errors.New("model unavailable")
			}
			return Verdict{Supported: true}, nil
		}),
	)
	var claims []types.Claim
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "bad"} {
		claims = append(claims, types.Claim{ID: id, CitationURL: "https://example.com/" + id})
	}
	report, err := engine.Verify(context.Background(), types.ClaimSet{Claims: claims}, 0.9)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, report.VerificationRate, 1e-9)
	assert.True(t, report.ThresholdMet)
	assert.Contains(t, report.Results[9].Reason, "model unavailable")
}

func TestVerifyBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	prober := proberFunc(func(context.Context, string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	engine := NewEngine(prober,
		fetcherFunc(func(context.Context, string) (string, error) { return "text", nil }),
		judgeFunc(func(context.Context, types.Claim, string) (Verdict, error) { return Verdict{Supported: true}, nil }),
		WithConcurrency(2),
	)

	claims := make([]types.Claim, 12)
	for i := range claims {
		claims[i] = types.Claim{ID: string(rune('a' + i)), CitationURL: "https://example.com"}
	}
	_, err := engine.Verify(context.Background(), types.ClaimSet{Claims: claims}, 0.5)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestVerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewEngine(
		proberFunc(func(ctx context.Context, _ string) error { return ctx.Err() }),
		fetcherFunc(func(context.Context, string) (string, error) { return "", nil }),
		&mockJudge{},
		WithRateLimit(10),
	)
	_, err := engine.Verify(ctx, types.ClaimSet{Claims: []types.Claim{{ID: "a", CitationURL: "https://x"}}}, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPProber(t *testing.T) {
	ts := citedServer(t)
	p := &HTTPProber{Client: ts.Client()}

	assert.NoError(t, p.Probe(context.Background(), ts.URL+"/ok"))
	assert.NoError(t, p.Probe(context.Background(), ts.URL+"/headless"))
	err := p.Probe(context.Background(), ts.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Verdict
		wantErr bool
	}{
		{"plain", `{"supported": true, "reason": "stated"}`, Verdict{true, "stated"}, false},
		{"fenced", "```json\n{\"supported\": false, \"reason\": \"no\"}\n```", Verdict{false, "no"}, false},
		{"prose", `Here is my answer: {"supported": true, "reason": "uses {braces}"} thanks`, Verdict{true, "uses {braces}"}, false},
		{"missing field", `{"reason": "?"}`, Verdict{}, true},
		{"no json", `I think so`, Verdict{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// cannedModel returns its answers in order, repeating the last one.
type cannedModel struct {
	mu      sync.Mutex
	answers []string
	prompts []string
}

func (m *cannedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tc.Text)
			}
		}
	}
	answer := m.answers[0]
	if len(m.answers) > 1 {
		m.answers = m.answers[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *cannedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func TestLLMJudgeRetriesBadAnswers(t *testing.T) {
	model := &cannedModel{answers: []string{"not json", `{"supported": true, "reason": "matches"}`}}
	judge := &LLMJudge{Model: model, MaxRetries: 2}

	v, err := judge.Supports(context.Background(), types.Claim{Text: "Blend paid 7.2%", CitationURL: "https://blend.capital"}, "Blend pools paid 7.2% APY")
	require.NoError(t, err)
	assert.True(t, v.Supported)
	assert.Equal(t, "matches", v.Reason)
	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[0], "Blend paid 7.2%")
	assert.Contains(t, model.prompts[0], "https://blend.capital")
}

func TestLLMJudgeGivesUp(t *testing.T) {
	judge := &LLMJudge{Model: &cannedModel{answers: []string{"nope"}}, MaxRetries: 1}
	_, err := judge.Supports(context.Background(), types.Claim{Text: "x"}, "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 retries")
}

type proberFunc func(ctx context.Context, url string) error

func (f proberFunc) Probe(ctx context.Context, url string) error { return f(ctx, url) }

type fetcherFunc func(ctx context.Context, url string) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

type judgeFunc func(ctx context.Context, c types.Claim, content string) (Verdict, error)

func (f judgeFunc) Supports(ctx context.Context, c types.Claim, content string) (Verdict, error) {
	return f(ctx, c, content)
}
