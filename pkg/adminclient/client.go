// Package adminclient is a client for the broker's read-only admin API.
package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotFound is returned when the requested node is not registered
var ErrNotFound = errors.New("not found")

// Client provides HTTP client for the mechOS admin API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new admin API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid ServerURL %q: scheme and host required", config.ServerURL)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// ListNodes returns every registered node
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var resp nodesResponse
	if err := c.get(ctx, "/api/v1/nodes", &resp); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return resp.Nodes, nil
}

// GetNode returns one node; ErrNotFound when it is not registered
func (c *Client) GetNode(ctx context.Context, name string) (*Node, error) {
	var node Node
	if err := c.get(ctx, "/api/v1/nodes/"+url.PathEscape(name), &node); err != nil {
		return nil, fmt.Errorf("failed to get node %q: %w", name, err)
	}
	return &node, nil
}

// ListTopics returns the topic summary
func (c *Client) ListTopics(ctx context.Context) ([]Topic, error) {
	var resp topicsResponse
	if err := c.get(ctx, "/api/v1/topics", &resp); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return resp.Topics, nil
}

// GetHealth returns the health status of the broker. An unhealthy broker
// answers 503 with a body, which is returned together with an *APIError.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var resp Health
	err := c.get(ctx, "/api/v1/health", &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &resp, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}
	return &resp, nil
}

// get performs a GET request and decodes the JSON body into respBody
func (c *Client) get(ctx context.Context, path string, respBody any) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		var errResp ErrorResponse
		message := string(bodyBytes)
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			message = errResp.Message
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: message}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, respBody); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
