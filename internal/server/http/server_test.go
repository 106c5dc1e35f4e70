package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/domain"
)

// fakeFramework implements Discoverer for handler tests.
type fakeFramework struct {
	result     *domain.DiscoveryResult
	err        error
	gotPapers  []domain.Paper
	stats      dedup.Stats
	decisions  []domain.DeduplicationDecision
	totals     map[string]domain.SourceStats
	collectors []collectors.Collector
}

func (f *fakeFramework) Discover(_ context.Context, papers []domain.Paper) (*domain.DiscoveryResult, error) {
	f.gotPapers = papers
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeFramework) DeduplicationStats() dedup.Stats { return f.stats }

func (f *fakeFramework) DeduplicationDecisions() []domain.DeduplicationDecision {
	return f.decisions
}

func (f *fakeFramework) TotalSourceStats() map[string]domain.SourceStats {
	if f.totals == nil {
		return map[string]domain.SourceStats{}
	}
	return f.totals
}

func (f *fakeFramework) Collectors() []collectors.Collector { return f.collectors }

func (f *fakeFramework) EnabledCollectors() []collectors.Collector {
	var enabled []collectors.Collector
	for _, c := range f.collectors {
		if c.IsEnabled() {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

type fakeCollector struct {
	source   string
	name     string
	disabled bool
}

func (c *fakeCollector) Discover(context.Context, domain.Paper) (domain.CandidateRecord, error) {
	return domain.CandidateRecord{}, domain.ErrNoResults
}
func (c *fakeCollector) Source() string  { return c.source }
func (c *fakeCollector) Name() string    { return c.name }
func (c *fakeCollector) IsEnabled() bool { return !c.disabled }

func newTestServer(fw Discoverer) *Server {
	return NewServer(Config{Address: "127.0.0.1:0"}, fw, zerolog.Nop())
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDiscoverPapers(t *testing.T) {
	t.Run("successful batch", func(t *testing.T) {
		fw := &fakeFramework{
			result: &domain.DiscoveryResult{
				TotalPapers:     2,
				DiscoveredCount: 1,
				Records: map[string]domain.CandidateRecord{
					"paper1": {PaperKey: "paper1", PDFURL: "https://arxiv.org/pdf/1706.03762", SourceName: "arxiv"},
				},
				FailedPapers:  []string{"paper2"},
				SourceStats:   map[string]domain.SourceStats{"arxiv": {Attempted: 2, Successful: 1, Failed: 1}},
				ExecutionTime: 1500 * time.Millisecond,
			},
		}
		s := newTestServer(fw)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/discover", discoverRequest{
			Papers: []domain.Paper{
				{Key: "paper1", Title: "Attention Is All You Need"},
				{Key: "paper2", Title: "An Unfindable Paper"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, fw.gotPapers, 2)

		var resp discoverResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.TotalPapers)
		assert.Equal(t, 1, resp.DiscoveredCount)
		assert.Equal(t, 0.5, resp.DiscoveryRate)
		assert.Equal(t, []string{"paper2"}, resp.FailedPapers)
		assert.Equal(t, "1.5s", resp.ExecutionTime)
		assert.Contains(t, resp.Records, "paper1")
	})

	t.Run("empty papers list is rejected", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/discover", discoverRequest{Papers: []domain.Paper{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("paper without key is rejected", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/discover", discoverRequest{
			Papers: []domain.Paper{{Title: "No Key"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed JSON is rejected", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/discover", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("framework error maps to 500", func(t *testing.T) {
		s := newTestServer(&fakeFramework{err: errors.New("boom")})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/discover", discoverRequest{
			Papers: []domain.Paper{{Key: "p1", Title: "T"}},
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListCollectors(t *testing.T) {
	s := newTestServer(&fakeFramework{collectors: []collectors.Collector{
		&fakeCollector{source: "arxiv", name: "arXiv"},
		&fakeCollector{source: "crossref", name: "Crossref"},
		&fakeCollector{source: "cvf", name: "CVF Open Access", disabled: true},
	}})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/collectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Collectors []collectorResponse `json:"collectors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Collectors, 3)
	assert.Equal(t, "arxiv", resp.Collectors[0].Source)
	assert.True(t, resp.Collectors[0].Enabled)

	// Disabled collectors are listed too, with their flag reported honestly.
	assert.Equal(t, "cvf", resp.Collectors[2].Source)
	assert.False(t, resp.Collectors[2].Enabled)
}

func TestGetDedupStats(t *testing.T) {
	s := newTestServer(&fakeFramework{stats: dedup.Stats{
		TotalDecisions: 4,
		MergeDecisions: 1,
		MergeRate:      0.25,
	}})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/dedup/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats dedup.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.TotalDecisions)
	assert.Equal(t, 0.25, stats.MergeRate)
}

func TestGetDedupDecisions(t *testing.T) {
	t.Run("empty decision list serializes as array", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodGet, "/api/v1/dedup/decisions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"decisions":[],"count":0}`, rec.Body.String())
	})
}

func TestGetSourceStats(t *testing.T) {
	s := newTestServer(&fakeFramework{totals: map[string]domain.SourceStats{
		"arxiv": {Attempted: 10, Successful: 7, Failed: 3},
	}})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/sources/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sources map[string]domain.SourceStats `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Sources["arxiv"].Successful)
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthz is always ok", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz fails without enabled collectors", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("readyz succeeds with a collector", func(t *testing.T) {
		s := newTestServer(&fakeFramework{collectors: []collectors.Collector{
			&fakeCollector{source: "arxiv", name: "arXiv"},
		}})
		rec := doRequest(t, s, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("echoes caller-supplied request id", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})

	t.Run("generates a request id when missing", func(t *testing.T) {
		s := newTestServer(&fakeFramework{})
		rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}
