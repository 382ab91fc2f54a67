// Package backlab provides a Go SDK for interacting with the backlab-server
// API.
package backlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"backlab/internal/domain"
	"backlab/internal/engine"
	"backlab/internal/strategy"
)

// Client provides typed access to the backlab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new backlab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// StrategyInfo describes one registered strategy.
type StrategyInfo struct {
	Name   string                    `json:"name"`
	Ranges []strategy.ParameterRange `json:"ranges"`
}

// Backtest runs a single backtest.
func (c *Client) Backtest(ctx context.Context, req engine.BacktestRequest) (*engine.BacktestResponse, error) {
	var resp engine.BacktestResponse
	if err := c.post(ctx, "/api/backtest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GridSearch optimizes strategy parameters over a bar series.
func (c *Client) GridSearch(ctx context.Context, req engine.GridSearchRequest) (*engine.GridSearchResponse, error) {
	var resp engine.GridSearchResponse
	if err := c.post(ctx, "/api/grid-search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MonteCarlo resamples a backtest's trade sequence.
func (c *Client) MonteCarlo(ctx context.Context, req engine.MonteCarloRequest) (*engine.MonteCarloResponse, error) {
	var resp engine.MonteCarloResponse
	if err := c.post(ctx, "/api/monte-carlo", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WalkForward runs walk-forward validation.
func (c *Client) WalkForward(ctx context.Context, req engine.WalkForwardRequest) (*engine.WalkForwardResponse, error) {
	var resp engine.WalkForwardResponse
	if err := c.post(ctx, "/api/walk-forward", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Portfolio optimizes weights across several strategy legs.
func (c *Client) Portfolio(ctx context.Context, req engine.PortfolioRequest) (*engine.PortfolioResponse, error) {
	var resp engine.PortfolioResponse
	if err := c.post(ctx, "/api/portfolio", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Strategies lists the registered strategies and their parameter ranges.
func (c *Client) Strategies(ctx context.Context) ([]StrategyInfo, error) {
	var resp struct {
		Strategies []StrategyInfo `json:"strategies"`
	}
	if err := c.get(ctx, "/api/strategies", &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Symbols lists the symbols stored for a market.
func (c *Client) Symbols(ctx context.Context, market string) ([]string, error) {
	path := "/api/symbols"
	if market != "" {
		path += "?market=" + url.QueryEscape(market)
	}
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// Runs lists persisted run records, newest first. kind and limit are
// optional.
func (c *Client) Runs(ctx context.Context, kind string, limit int) ([]domain.RunRecord, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run retrieves one persisted run record by ID.
func (c *Client) Run(ctx context.Context, id string) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	if err := c.get(ctx, "/api/runs/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Params retrieves all stored optimized parameters, keyed strategy/symbol.
func (c *Client) Params(ctx context.Context) (map[string]map[string]float64, error) {
	var resp struct {
		Params map[string]map[string]float64 `json:"params"`
	}
	if err := c.get(ctx, "/api/params", &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

// DeleteParams removes stored optimized parameters for a strategy/symbol.
func (c *Client) DeleteParams(ctx context.Context, strategy, symbol string) error {
	path := "/api/params/" + url.PathEscape(strategy) + "/" + url.PathEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, e.Error)
	}
	return fmt.Errorf("%s %s: status %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)
}
