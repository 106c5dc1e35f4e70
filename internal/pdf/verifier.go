// Package pdf verifies that discovered candidate URLs actually serve a PDF.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/pdf-discovery-service/internal/domain"
)

// Sentinel errors for PDF verification.
var (
	// ErrNotPDF is returned when the URL does not serve application/pdf.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrProbeFailed is returned when the probe fails due to network or HTTP errors.
	ErrProbeFailed = errors.New("pdf: probe failed")
	// ErrSSRF is returned when the URL resolves to a private/internal network address.
	ErrSSRF = errors.New("pdf: request to private network denied")
)

// pdfMagic is the signature at the start of every PDF file.
const pdfMagic = "%PDF-"

// Config holds verifier configuration.
type Config struct {
	// Timeout is the HTTP request timeout. Default: 30 seconds.
	Timeout time.Duration
	// UserAgent is the User-Agent header.
	UserAgent string
	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only be
	// set to true in test environments. Production code must never set this.
	AllowPrivateNetworks bool
}

// Verifier probes candidate PDF URLs with a HEAD request, falling back to a
// small ranged GET for servers that reject HEAD, and records the observed
// content length on the candidate.
type Verifier struct {
	client               *http.Client
	userAgent            string
	allowPrivateNetworks bool // For testing only; never enable in production.
}

// NewVerifier creates a new Verifier with the given configuration.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; Helixir-PDFDiscovery/1.0; +https://helixir.io/bot)"
	}

	v := &Verifier{
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}

	v.client = &http.Client{
		Timeout: cfg.Timeout,
		// Validate each redirect URL against private IP checks to prevent
		// SSRF via open redirects that land on internal network addresses.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrSSRF)
			}
			if !v.allowPrivateNetworks {
				if err := validateURLNotPrivate(req.URL.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	return v
}

// Verify probes the record's PDF URL and, on success, fills in the file size
// when the server reports one.
// Returns ErrNotPDF if the URL serves something other than a PDF.
// Returns ErrSSRF if the URL resolves to a private network address.
// Returns ErrProbeFailed wrapped with the HTTP status for non-2xx responses.
func (v *Verifier) Verify(ctx context.Context, record *domain.CandidateRecord) error {
	if !v.allowPrivateNetworks {
		if err := validateURLNotPrivate(record.PDFURL); err != nil {
			return err
		}
	}

	size, contentType, err := v.head(ctx, record.PDFURL)
	if err != nil || contentType == "" {
		size, contentType, err = v.rangedGet(ctx, record.PDFURL)
	}
	if err != nil {
		return err
	}

	if !strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	if size > 0 {
		record.FileSizeBytes = size
	}
	return nil
}

// head issues a HEAD probe. Servers that do not implement HEAD get reported
// as a probe failure so the caller can fall back to a ranged GET.
func (v *Verifier) head(ctx context.Context, rawURL string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid URL: %w", ErrProbeFailed, err)
	}
	req.Header.Set("User-Agent", v.userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", fmt.Errorf("%w: HTTP %d", ErrProbeFailed, resp.StatusCode)
	}

	return resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

// rangedGet fetches the first kilobyte of the resource and sniffs the PDF
// magic bytes when the server omits the content type.
func (v *Verifier) rangedGet(ctx context.Context, rawURL string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid URL: %w", ErrProbeFailed, err)
	}
	req.Header.Set("User-Agent", v.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", fmt.Errorf("%w: HTTP %d", ErrProbeFailed, resp.StatusCode)
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return 0, "", fmt.Errorf("%w: read body: %w", ErrProbeFailed, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" && strings.HasPrefix(string(head), pdfMagic) {
		contentType = "application/pdf"
	}

	size := resp.ContentLength
	if resp.StatusCode == http.StatusPartialContent {
		size = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	}
	return size, contentType, nil
}

// parseContentRangeTotal extracts the total length from a Content-Range
// header like "bytes 0-1023/482301". Returns 0 when the total is unknown.
func parseContentRangeTotal(value string) int64 {
	idx := strings.LastIndex(value, "/")
	if idx < 0 || idx+1 >= len(value) {
		return 0
	}
	var total int64
	if _, err := fmt.Sscanf(value[idx+1:], "%d", &total); err != nil {
		return 0
	}
	return total
}

// isPrivateIP returns true if the IP address is in a private, loopback, or
// otherwise non-routable range. Covers both IPv4 and IPv6 private ranges.
func isPrivateIP(ip net.IP) bool {
	privateRanges := []struct{ start, end net.IP }{
		{net.ParseIP("10.0.0.0"), net.ParseIP("10.255.255.255")},
		{net.ParseIP("172.16.0.0"), net.ParseIP("172.31.255.255")},
		{net.ParseIP("192.168.0.0"), net.ParseIP("192.168.255.255")},
		{net.ParseIP("169.254.0.0"), net.ParseIP("169.254.255.255")},
		// IPv6 Unique Local Addresses (fc00::/7).
		{net.ParseIP("fc00::"), net.ParseIP("fdff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
		// IPv6 link-local (fe80::/10).
		{net.ParseIP("fe80::"), net.ParseIP("febf:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, r := range privateRanges {
		if bytesInRange(ip.To16(), r.start.To16(), r.end.To16()) {
			return true
		}
	}
	return false
}

func bytesInRange(ip, lo, hi []byte) bool {
	for i := range ip {
		if ip[i] < lo[i] {
			return false
		}
		if ip[i] > hi[i] {
			return false
		}
	}
	return true
}

// validateURLNotPrivate resolves the hostname and rejects private IPs.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSSRF, err)
	}

	// Reject non-HTTP(S) schemes to prevent file://, gopher://, etc.
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		// allowed
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrProbeFailed, host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrSSRF, host, ipStr)
		}
	}
	return nil
}
