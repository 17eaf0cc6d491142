package odata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed response is kept for logs.
const maxErrorBody = 512

// Client fetches entity collections over HTTP.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{httpClient: &http.Client{}, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchEntities runs one GET for q and decodes the collection in the body.
func (c *Client) FetchEntities(ctx context.Context, q Query) ([]*Record, error) {
	u, err := q.URL()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("odata request", zap.String("query", q.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("odata request failed",
			zap.String("entity_set", q.EntitySet),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, &FetchError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}

	records, err := DecodeEntitySet(resp.Body)
	if err != nil {
		return nil, &ProtocolError{URL: u, Err: err}
	}
	c.logger.Debug("odata response",
		zap.String("entity_set", q.EntitySet),
		zap.Int("records", len(records)),
		zap.Duration("took", time.Since(start)))
	return records, nil
}
