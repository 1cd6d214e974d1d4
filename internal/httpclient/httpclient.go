// Package httpclient builds the *http.Client used by every remote provider
// adapter, with timeouts sized so a dead catalog API cannot stall a worker
// indefinitely. Callers layer internal/ratelimit, internal/retry, and
// internal/breaker around it rather than baking retry policy into the
// transport itself.
package httpclient

import (
	"net/http"
	"time"
)

// Default returns a client suitable for provider metadata/asset calls:
// bounded overall timeout plus header/idle timeouts so a hanging upstream
// fails fast instead of pinning a worker goroutine.
func Default(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       30 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}
