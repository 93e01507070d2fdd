package relayinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/sony/gobreaker"
)

const acceptHeader = "application/nostr+json"

// Document is the subset of the relay information document the probe reads.
type Document struct {
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	Software      string          `json:"software,omitempty"`
	Version       string          `json:"version,omitempty"`
	SupportedNIPs []int           `json:"supported_nips"`
	Raw           json.RawMessage `json:"-"`
}

// Supports reports whether nip is listed.
func (d *Document) Supports(nip int) bool {
	return d != nil && slices.Contains(d.SupportedNIPs, nip)
}

// Fetcher retrieves relay capability documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Interface guard
var _ Fetcher = (*Client)(nil)

// Client is a resilient capability-discovery client. Repeated failures open the
// breaker so a dead relay is not hammered from watch mode.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func New(logger *slog.Logger, timeout time.Duration) *Client {
	c := &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay-info",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[BREAKER] state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Fetch issues GET url with Accept: application/nostr+json.
func (c *Client) Fetch(ctx context.Context, url string) (*Document, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("relay info %s: %w", url, err)
		}
		return nil, err
	}
	return res.(*Document), nil
}

func (c *Client) fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay info: build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay info: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay info: fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("relay info: read body: %w", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("relay info: parse document: %w", err)
	}
	doc.Raw = body

	c.logger.Debug("[RELAY_INFO] fetched", "url", url, "nips", len(doc.SupportedNIPs))
	return doc, nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
