// Package observability provides logging, metrics, and context helpers for
// the PDF discovery service.
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("batch_id", batchID).Msg("discovery started")
//
// # Metrics
//
// Initialize metrics with a namespace and record discovery events:
//
//	metrics := observability.NewMetrics("pdf_discovery")
//	metrics.RecordCandidateDiscovered("arxiv")
//	metrics.RecordBatchCompleted(12.4)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithBatchID(ctx, batchID)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - batch_id: Discovery batch identifier
//   - paper_key: Input paper key within a batch
//   - source: Collector source name (arxiv, crossref, etc.)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
