package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
)

// ClassifyResponse translates an HTTP response into the closed error
// taxonomy (nil for 200/304/206). The caller's internal/retry.Policy decides
// whether to retry based on apperr.IsRetryable; this function only handles
// the HTTP-specific judgment call plus extracting Retry-After for
// RATE_LIMIT/PROVIDER_UNAVAILABLE errors.
//
// Adapted from the teacher's status-code handling (internal/httpclient's
// former DoWithRetry): 429/403-as-rate-limit and 5xx-as-transient, but the
// retry loop itself now lives in internal/retry so every adapter shares one
// backoff implementation instead of each caller re-deriving it.
func ClassifyResponse(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK, code == http.StatusNotModified, code == http.StatusPartialContent:
		return nil
	case code == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), 60*time.Second)
		return apperr.New(apperr.RateLimit, fmt.Errorf("http %d from %s", code, resp.Request.URL.Host)).
			WithRetryAfter(wait)
	case code == http.StatusForbidden:
		// Several catalog APIs (notably Xtream-derived ones) signal a
		// transient per-IP rate limit with 403 rather than 429.
		wait := retryAfterOrDefault(resp.Header.Get("Retry-After"), 30*time.Second, 5*time.Second)
		return apperr.New(apperr.RateLimit, fmt.Errorf("http 403 from %s", resp.Request.URL.Host)).
			WithRetryAfter(wait)
	case code == http.StatusUnauthorized:
		return apperr.New(apperr.Auth, fmt.Errorf("http %d from %s", code, resp.Request.URL.Host))
	case code == http.StatusNotFound:
		return apperr.New(apperr.NotFound, fmt.Errorf("http %d from %s", code, resp.Request.URL.Host))
	case code >= 500 && code < 600:
		return apperr.New(apperr.ProviderServer, fmt.Errorf("http %d from %s", code, resp.Request.URL.Host))
	case code >= 400 && code < 500:
		return apperr.New(apperr.ProviderInvalidResp, fmt.Errorf("http %d from %s", code, resp.Request.URL.Host))
	default:
		return nil
	}
}

// DrainAndClose discards and closes resp.Body, for callers that classified a
// non-2xx response and don't need the payload.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns duration capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 * time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return 1 * time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}

// retryAfterOrDefault returns parseRetryAfter if header is present, else defaultWait, capped at max.
func retryAfterOrDefault(header string, max, defaultWait time.Duration) time.Duration {
	if strings.TrimSpace(header) != "" {
		return parseRetryAfter(header, max)
	}
	if defaultWait > max {
		return max
	}
	return defaultWait
}
