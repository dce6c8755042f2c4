// Package hnclient talks to the Hacker News public JSON API.
//
// The API is two endpoints: /topstories.json returns the ranked ID list,
// /item/{id}.json returns one item or the literal null for dead entries.
// Transport and HTTP errors propagate to the caller so the job layer can
// retry and ultimately fail the job; only null items are silently dropped.
package hnclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrUpstreamStatus indicates the API answered outside the 2xx range.
var ErrUpstreamStatus = errors.New("hnclient: unexpected upstream status")

// Config holds client settings.
type Config struct {
	BaseURL       string        // default https://hacker-news.firebaseio.com/v0
	Timeout       time.Duration // per-request, default 15s
	MaxConcurrent int           // parallel item fetches, default 10
	MaxBodyBytes  int64         // per-response read cap, default 1 MiB
	UserAgent     string        // default hnfetch/1.0
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://hacker-news.firebaseio.com/v0"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "hnfetch/1.0"
	}
}

// Item is one story as the API returns it. "by" and "time" keep their
// upstream names here; the service maps them onto its own schema.
type Item struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Descendants int     `json:"descendants"`
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Kids        []int64 `json:"kids"`
}

// Client fetches stories from the API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a Client with the given config (zero values take defaults).
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// TopStories returns the full ranked list of top story IDs. Callers
// truncate to the limit they need.
func (c *Client) TopStories(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("hnclient: top stories: %w", err)
	}
	return ids, nil
}

// Item returns one item by ID. The API answers null for dead or missing
// items; that case returns (nil, nil).
func (c *Client) Item(ctx context.Context, id int64) (*Item, error) {
	var it *Item
	if err := c.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", c.cfg.BaseURL, id), &it); err != nil {
		return nil, fmt.Errorf("hnclient: item %d: %w", id, err)
	}
	return it, nil
}

// Items fetches the given IDs with at most MaxConcurrent requests in
// flight, preserving input order. Null items are dropped. The first
// transport or HTTP error cancels the remaining fetches and is returned.
func (c *Client) Items(ctx context.Context, ids []int64) ([]*Item, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Item, len(ids))
	sem := make(chan struct{}, c.cfg.MaxConcurrent)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, id := range ids {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// A fetch error cancels the context; report the error, not
			// the cancellation it caused.
			wg.Wait()
			if firstErr != nil {
				return nil, firstErr
			}
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			it, err := c.Item(ctx, id)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			results[i] = it
		}(i, id)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	items := make([]*Item, 0, len(ids))
	for _, it := range results {
		if it != nil {
			items = append(items, it)
		}
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}
