package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/pdf-discovery-service/internal/domain"
	"github.com/helixir/pdf-discovery-service/internal/observability"
)

// Request limits.
const maxRequestBodySize = 4 << 20 // 4 MB limit for request bodies

// discoverRequest is the JSON request body for a discovery batch.
type discoverRequest struct {
	Papers []domain.Paper `json:"papers" validate:"required,min=1,max=500,dive"`
	// BatchID is an optional caller-supplied identifier for log correlation.
	BatchID string `json:"batch_id,omitempty"`
}

// discoverResponse is the JSON response for a discovery batch.
type discoverResponse struct {
	TotalPapers     int                               `json:"total_papers"`
	DiscoveredCount int                               `json:"discovered_count"`
	DiscoveryRate   float64                           `json:"discovery_rate"`
	Records         map[string]domain.CandidateRecord `json:"records"`
	FailedPapers    []string                          `json:"failed_papers"`
	SourceStats     map[string]domain.SourceStats     `json:"source_statistics"`
	ExecutionTime   string                            `json:"execution_time"`
	DedupDegraded   bool                              `json:"dedup_degraded,omitempty"`
}

// collectorResponse describes one registered collector.
type collectorResponse struct {
	Source  string `json:"source"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// discoverPapers handles POST /api/v1/discover. It runs one discovery batch
// over the submitted papers and returns the deduplicated results.
func (s *Server) discoverPapers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req discoverRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid request: "+verrs[0].Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if req.BatchID != "" {
		ctx = observability.WithBatchID(ctx, req.BatchID)
	}

	result, err := s.framework.Discover(ctx, req.Papers)
	if err != nil {
		s.logger.Error().Err(err).Int("paper_count", len(req.Papers)).Msg("discovery batch failed")
		writeError(w, http.StatusInternalServerError, "discovery failed")
		return
	}

	writeJSON(w, http.StatusOK, discoveryResultToResponse(result))
}

// listCollectors handles GET /api/v1/collectors. Disabled collectors are
// included so the endpoint reflects the full configuration.
func (s *Server) listCollectors(w http.ResponseWriter, r *http.Request) {
	registered := s.framework.Collectors()
	resp := make([]collectorResponse, 0, len(registered))
	for _, c := range registered {
		resp = append(resp, collectorResponse{
			Source:  c.Source(),
			Name:    c.Name(),
			Enabled: c.IsEnabled(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collectors": resp})
}

// getDedupStats handles GET /api/v1/dedup/stats.
func (s *Server) getDedupStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.framework.DeduplicationStats())
}

// getDedupDecisions handles GET /api/v1/dedup/decisions.
func (s *Server) getDedupDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := s.framework.DeduplicationDecisions()
	if decisions == nil {
		decisions = []domain.DeduplicationDecision{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// getSourceStats handles GET /api/v1/sources/stats. Counters are cumulative
// across all batches since process start.
func (s *Server) getSourceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": s.framework.TotalSourceStats(),
	})
}

func discoveryResultToResponse(result *domain.DiscoveryResult) discoverResponse {
	resp := discoverResponse{
		TotalPapers:     result.TotalPapers,
		DiscoveredCount: result.DiscoveredCount,
		DiscoveryRate:   result.DiscoveryRate(),
		Records:         result.Records,
		FailedPapers:    result.FailedPapers,
		SourceStats:     result.SourceStats,
		ExecutionTime:   result.ExecutionTime.String(),
		DedupDegraded:   result.DedupDegraded,
	}
	if resp.Records == nil {
		resp.Records = map[string]domain.CandidateRecord{}
	}
	if resp.FailedPapers == nil {
		resp.FailedPapers = []string{}
	}
	return resp
}
