// Package api is the HTTP client for the remote schedule service.
//
// The service exposes three endpoints: fetch-all, upsert-all and
// delete-by-keys. Calls are never retried; the only deadline is the one the
// caller's context carries plus the optional client Timeout.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schedform/internal/schedule"
	logx "schedform/pkg/logx"
)

const (
	PathFetch  = "/api/get/schedule/"
	PathUpsert = "/api/create_or_update/schedule/"
	PathDelete = "/api/delete/schedule/"
)

// Config configures the client.
type Config struct {
	BaseURL string
	// Timeout bounds each request; 0 waits indefinitely.
	Timeout time.Duration
}

// Client talks to the schedule service. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("api.base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api.base_url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.Timeout > 0 {
		cp := *hc
		cp.Timeout = cfg.Timeout
		hc = &cp
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{base: u, http: hc, log: log}, nil
}

// Fetch reads the full remote collection.
func (c *Client) Fetch(ctx context.Context) ([]schedule.Entry, error) {
	var out []schedule.Entry
	if err := c.do(ctx, http.MethodGet, PathFetch, nil, &out, "Failed to fetch data"); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertAll sends the whole collection; the server creates or updates by key.
func (c *Client) UpsertAll(ctx context.Context, entries []schedule.Entry) error {
	if entries == nil {
		entries = []schedule.Entry{}
	}
	return c.do(ctx, http.MethodPost, PathUpsert, entries, nil, "Failed to save schedules to database")
}

// DeleteByKeys asks the server to delete the entries with the given keys.
func (c *Client) DeleteByKeys(ctx context.Context, keys []int) error {
	if keys == nil {
		keys = []int{}
	}
	return c.do(ctx, http.MethodPost, PathDelete, keys, nil, "Failed to delete schedules from database")
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, failMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", logx.String("method", method), logx.String("path", path), logx.Err(err))
		return &TransportError{Op: failMsg, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("request done",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: failMsg, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
