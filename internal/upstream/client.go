// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// Thin HTTP fetch layer shared by the tool adapters.

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	apperrors "healthcare-mcp/internal/errors"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "healthcare-mcp/1.0"

	// Responses larger than this are truncated at the decoder; the public
	// data sources stay far below it for the page sizes we request.
	maxBodyBytes = 8 << 20
)

// Client fetches JSON documents from the public health data sources.
// Safe for concurrent use.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// GetJSON issues a GET for base with params as the query string and
// decodes the response body into out. Non-2xx statuses and transport
// failures come back as upstream errors with secrets scrubbed from the
// URL.
func (c *Client) GetJSON(ctx context.Context, base string, params url.Values, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return apperrors.NewInvalidInput(fmt.Sprintf("bad upstream url %q", base), "", nil)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return apperrors.NewInternal(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewTimeout(fmt.Sprintf("request to %s canceled: %v", u.Host, ctx.Err()))
		}
		return apperrors.NewUpstreamUnavailable(u.Host, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream request",
		zap.String("host", u.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return apperrors.NewUpstreamUnavailable(u.Host,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return apperrors.NewUpstreamUnavailable(u.Host,
			fmt.Errorf("malformed response: %w", err))
	}
	return nil
}
