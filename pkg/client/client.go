// Package client provides a Go SDK for the farmcoord HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/civalops/farmcoord/pkg/models"
)

// Client calls the farmcoord HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:4780"
	APIKey     string       // optional; set for X-API-Key / api_key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:4780").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Config returns the /config response.
func (c *Client) Config(ctx context.Context) (*models.Config, error) {
	var out models.Config
	err := c.doJSON(ctx, http.MethodGet, "/config", nil, &out)
	return &out, err
}

// Bootstrap returns the full /bootstrap payload.
func (c *Client) Bootstrap(ctx context.Context) (*models.Bootstrap, error) {
	var out models.Bootstrap
	err := c.doJSON(ctx, http.MethodGet, "/bootstrap", nil, &out)
	return &out, err
}

// ListFarms returns all farms.
func (c *Client) ListFarms(ctx context.Context) ([]models.Farm, error) {
	var out []models.Farm
	err := c.doJSON(ctx, http.MethodGet, "/farms", nil, &out)
	return out, err
}

// CreateFarm creates a farm and returns it.
func (c *Client) CreateFarm(ctx context.Context, name string) (*models.Farm, error) {
	var out models.Farm
	err := c.doJSON(ctx, http.MethodPost, "/farms", map[string]string{"name": name}, &out)
	return &out, err
}

// GetFarm returns a single farm by name.
func (c *Client) GetFarm(ctx context.Context, farm string) (*models.Farm, error) {
	var out models.Farm
	err := c.doJSON(ctx, http.MethodGet, "/farms/"+url.PathEscape(farm), nil, &out)
	return &out, err
}

// DeleteFarm deletes a farm by name, including its todos.
func (c *Client) DeleteFarm(ctx context.Context, farm string) error {
	return c.doJSON(ctx, http.MethodDelete, "/farms/"+url.PathEscape(farm), nil, nil)
}

// ListAgents returns agents for a farm.
func (c *Client) ListAgents(ctx context.Context, farm string) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/farms/"+url.PathEscape(farm)+"/agents", nil, &out)
	return out, err
}

// AddAgent registers an agent with a farm.
func (c *Client) AddAgent(ctx context.Context, farm, name string) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/farms/"+url.PathEscape(farm)+"/agents", map[string]string{"name": name}, &out)
	return &out, err
}

// RemoveAgent removes an agent from a farm. Its todos remain and are drained
// by the next rebalance.
func (c *Client) RemoveAgent(ctx context.Context, farm, agent string) error {
	return c.doJSON(ctx, http.MethodDelete, "/farms/"+url.PathEscape(farm)+"/agents/"+url.PathEscape(agent), nil, nil)
}

// GetFarmTodos returns the farm's coordination snapshot.
func (c *Client) GetFarmTodos(ctx context.Context, farm string) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	err := c.doJSON(ctx, http.MethodGet, "/farms/"+url.PathEscape(farm)+"/todos", nil, &out)
	return &out, err
}

// ListAgentTodos returns one agent's raw todo list in creation order.
func (c *Client) ListAgentTodos(ctx context.Context, farm, agent string) ([]models.Todo, error) {
	var out []models.Todo
	path := "/farms/" + url.PathEscape(farm) + "/todos?agent=" + url.QueryEscape(agent)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTodo creates a todo and returns the rebuilt coordination snapshot.
func (c *Client) CreateTodo(ctx context.Context, req models.CreateTodoRequest) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	err := c.doJSON(ctx, http.MethodPost, "/farms/"+url.PathEscape(req.Farm)+"/todos", req, &out)
	return &out, err
}

// GetTodo returns a single todo by id.
func (c *Client) GetTodo(ctx context.Context, farm, todoID string) (*models.Todo, error) {
	var out models.Todo
	err := c.doJSON(ctx, http.MethodGet, "/farms/"+url.PathEscape(farm)+"/todos/"+url.PathEscape(todoID), nil, &out)
	return &out, err
}

// UpdateStatus transitions a todo's status as the given actor. Only the owning
// agent or the coordinator may transition a todo.
func (c *Client) UpdateStatus(ctx context.Context, farm, todoID, status, actor string) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	body := map[string]string{"status": status, "actor": actor}
	err := c.doJSON(ctx, http.MethodPatch, "/farms/"+url.PathEscape(farm)+"/todos/"+url.PathEscape(todoID), body, &out)
	return &out, err
}

// DeleteTodo removes a todo and returns the rebuilt coordination snapshot.
func (c *Client) DeleteTodo(ctx context.Context, farm, todoID string) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	err := c.doJSON(ctx, http.MethodDelete, "/farms/"+url.PathEscape(farm)+"/todos/"+url.PathEscape(todoID), nil, &out)
	return &out, err
}

// BulkOperation applies an atomic bulk create, update, or delete.
func (c *Client) BulkOperation(ctx context.Context, op models.BulkOperation) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	err := c.doJSON(ctx, http.MethodPost, "/farms/"+url.PathEscape(op.Farm)+"/bulk", op, &out)
	return &out, err
}

// Rebalance redistributes pending todos across the farm's agents.
func (c *Client) Rebalance(ctx context.Context, farm string) (*models.RebalanceResult, error) {
	var out models.RebalanceResult
	err := c.doJSON(ctx, http.MethodPost, "/farms/"+url.PathEscape(farm)+"/rebalance", nil, &out)
	return &out, err
}

// UpdatePriorities recomputes the farm's priority buckets and returns the snapshot.
func (c *Client) UpdatePriorities(ctx context.Context, farm string) (*models.FarmCoordination, error) {
	var out models.FarmCoordination
	err := c.doJSON(ctx, http.MethodPost, "/farms/"+url.PathEscape(farm)+"/priorities", nil, &out)
	return &out, err
}
