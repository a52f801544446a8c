package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kbindex/internal/models"
)

// apiClient talks to a running kbindex server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// do sends in as JSON (when non-nil) and decodes the response into out.
// Non-2xx responses become errors carrying the server's message.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) addTexts(ctx context.Context, req *models.AddTextsRequest) (*models.AddTextsResponse, error) {
	var out models.AddTextsResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/texts", req, &out)
}

func (c *apiClient) search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/search", q, &out)
}

func (c *apiClient) ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	var out models.IngestResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/ingest", req, &out)
}

func (c *apiClient) status(ctx context.Context) (*models.StatusResponse, error) {
	var out models.StatusResponse
	return &out, c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
}
