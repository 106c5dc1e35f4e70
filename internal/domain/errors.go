package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for collector failure kinds. Callers branch on these with
// errors.Is to decide whether a failure is retryable and whether it counts
// against the source.
var (
	// ErrSourceNotApplicable indicates the source cannot help this paper
	// (e.g. a non-arXiv paper with no identifier handed to the arXiv
	// collector). Not retried and not counted as a source failure.
	ErrSourceNotApplicable = errors.New("source not applicable")

	// ErrNoResults indicates the source applies but returned no match.
	ErrNoResults = errors.New("no results found")

	// ErrNoPDF indicates the source found the paper but exposes no
	// downloadable PDF for it.
	ErrNoPDF = errors.New("no pdf available")

	// ErrRateLimited indicates the source rejected the request for rate
	// reasons (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientAPI indicates a timeout, 5xx, or connection failure.
	// Collectors retry these internally with backoff before surfacing them.
	ErrTransientAPI = errors.New("transient api error")

	// ErrPermanentAPI indicates a non-retryable API failure (4xx other than
	// rate limiting).
	ErrPermanentAPI = errors.New("permanent api error")

	// ErrInvalidInput indicates the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ExternalAPIError provides details about an external API failure. It
// unwraps to the transient or permanent sentinel based on the status class
// so callers can classify it with errors.Is.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap classifies the failure: 429 is rate limiting, 5xx and network
// failures (status 0) are transient, everything else in the 4xx range is
// permanent.
func (e *ExternalAPIError) Unwrap() error {
	switch {
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode == 0 || e.StatusCode >= 500:
		return ErrTransientAPI
	default:
		return ErrPermanentAPI
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// RateLimitError provides details about a rate limit rejection, including
// the server-advertised retry delay when available.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsRetryable reports whether a collector failure is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientAPI) || errors.Is(err, ErrRateLimited)
}
