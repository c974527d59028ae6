// Package fetch provides the single outbound HTTP operation used by all
// periodic collectors: a context-abortable fetch with a total timeout,
// exponential retry for transient failures, and transparent gzip handling.
package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"kaos.obsgrid.org/common"
)

// Options carry the request shape.
type Options struct {
	Method     string // defaults to GET
	Headers    map[string]string
	Body       string
	AcceptGzip bool
}

// Policy carries the retry and timeout budget for one fetch.
type Policy struct {
	// Timeout bounds the whole operation including retries and backoff.
	Timeout time.Duration
	// Retries is the number of re-attempts after the initial try.
	Retries int
}

// DefaultPolicy matches the fleet-wide defaults: 30s total, 2 retries.
func DefaultPolicy() Policy {
	return Policy{Timeout: 30 * time.Second, Retries: 2}
}

// Response is the decoded result of a successful fetch.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Terminal reports whether the status must not be retried (4xx).
func (e *StatusError) Terminal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

const backoffBase = time.Second

var client = &http.Client{}

// Fetch performs the request with retry. Any 5xx status or transport error
// is retried with exponential backoff (1s, 2s, 4s, ...) until the retry
// budget or the policy timeout is exhausted; 4xx is terminal. Cancelling
// the context aborts the fetch, the backoff sleep included.
func Fetch(ctx context.Context, url string, opts Options, policy Policy) (*Response, error) {
	if policy.Timeout <= 0 {
		policy.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	var lastErr error
	attempts := policy.Retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := fetchOnce(ctx, url, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Terminal() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < attempts-1 {
			backoff := backoffBase * time.Duration(1<<uint(attempt))
			common.Logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
				"backoff": backoff.String(),
			}).Debug("fetch failed, retrying")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", attempts, lastErr)
}

// fetchOnce performs a single attempt.
func fetchOnce(ctx context.Context, url string, opts Options) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.AcceptGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, URL: url}
	}

	reader := httpResp.Body
	if strings.Contains(httpResp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	common.Logger.WithFields(logrus.Fields{
		"url":   url,
		"bytes": humanize.Bytes(uint64(len(payload))),
	}).Debug("fetch complete")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       payload,
	}, nil
}
