package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/redline/internal/persist"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

// Client talks to a running server.
type Client struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL ("http://host:port" or "host:port").
func NewClient(baseURL, token string) *Client {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetActor sets the origin recorded for resolutions made through this client.
func (c *Client) SetActor(actor string) {
	c.actor = actor
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TryConnect returns a client if a healthy server answers at addr within
// timeout.
func TryConnect(ctx context.Context, addr, token string, timeout time.Duration) (*Client, error) {
	c := NewClient(addr, token)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h, err := c.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed for %s: %w", c.baseURL, err)
	}
	if h.Status != "ok" {
		return nil, fmt.Errorf("server at %s is %s", c.baseURL, h.Status)
	}
	return c, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

func (c *Client) Document(ctx context.Context) (*types.Document, error) {
	var out types.Document
	return &out, c.do(ctx, http.MethodGet, "/api/document", nil, &out)
}

func (c *Client) Status(ctx context.Context) (*store.Status, error) {
	var out store.Status
	return &out, c.do(ctx, http.MethodGet, "/api/status", nil, &out)
}

func (c *Client) ApplyChanges(ctx context.Context, reqs []types.ChangeRequest) (*types.BatchResult, error) {
	var out types.BatchResult
	return &out, c.do(ctx, http.MethodPost, "/api/changes", ChangesRequest{Changes: reqs}, &out)
}

func (c *Client) ApplyTextEdits(ctx context.Context, nodeID string, edits []types.TextEdit) (*types.TextEditResult, error) {
	var out types.TextEditResult
	path := "/api/nodes/" + url.PathEscape(nodeID) + "/text-edits"
	return &out, c.do(ctx, http.MethodPost, path, TextEditsRequest{Edits: edits}, &out)
}

func (c *Client) Pending(ctx context.Context) ([]types.PendingNode, error) {
	var out []types.PendingNode
	return out, c.do(ctx, http.MethodGet, "/api/pending", nil, &out)
}

func (c *Client) Accept(ctx context.Context, id string) (int, error) {
	return c.resolve(ctx, "/api/pending/"+url.PathEscape(id)+"/accept")
}

func (c *Client) Reject(ctx context.Context, id string) (int, error) {
	return c.resolve(ctx, "/api/pending/"+url.PathEscape(id)+"/reject")
}

func (c *Client) AcceptAll(ctx context.Context) (int, error) {
	return c.resolve(ctx, "/api/pending/accept-all")
}

func (c *Client) RejectAll(ctx context.Context) (int, error) {
	return c.resolve(ctx, "/api/pending/reject-all")
}

func (c *Client) resolve(ctx context.Context, path string) (int, error) {
	var out ResolveResponse
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out.Resolved, err
}

// Open switches the server to another document.
func (c *Client) Open(ctx context.Context, req OpenRequest) (*types.Document, error) {
	var out types.Document
	return &out, c.do(ctx, http.MethodPost, "/api/document/open", req, &out)
}

// Save writes the server's document now and returns the outcome name.
func (c *Client) Save(ctx context.Context) (string, error) {
	var out SaveResponse
	err := c.do(ctx, http.MethodPost, "/api/save", nil, &out)
	return out.Outcome, err
}

func (c *Client) Versions(ctx context.Context) ([]persist.Version, error) {
	var out []persist.Version
	return out, c.do(ctx, http.MethodGet, "/api/versions", nil, &out)
}

func (c *Client) ReadVersion(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/versions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) RestoreVersion(ctx context.Context, id string) (*types.Document, error) {
	var out types.Document
	return &out, c.do(ctx, http.MethodPost, "/api/versions/"+url.PathEscape(id)+"/restore", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set(HeaderActor, c.actor)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er ErrorResponse
	if json.Unmarshal(data, &er) != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(data))
		if er.Error == "" {
			er.Error = resp.Status
		}
	}
	return &Error{Status: resp.StatusCode, Code: er.Code, Message: er.Error}
}
