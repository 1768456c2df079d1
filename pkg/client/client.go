package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is the histree SDK client.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a new histree client.
// endpoint defaults to "http://127.0.0.1:8091" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8091"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateNode records a new edit under parentNodeID and returns the id the
// daemon assigned to it. The daemon's current pointer moves to the new node.
func (c *Client) CreateNode(ctx context.Context, fileID, parentNodeID string, delta json.RawMessage) (string, error) {
	reqBody := struct {
		FileID       string          `json:"file_id,omitempty"`
		ParentNodeID string          `json:"parent_node_id"`
		Delta        json.RawMessage `json:"delta,omitempty"`
	}{fileID, parentNodeID, delta}

	resp, err := c.post(ctx, "/v1/nodes", reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError(resp)
	}

	var created struct {
		NodeID string `json:"node_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return created.NodeID, nil
}

// Graph fetches the full version graph for a file. Asking for a file the
// daemon has never seen initializes it with a bare root.
func (c *Client) Graph(ctx context.Context, fileID string) (Graph, error) {
	resp, err := c.get(ctx, "/v1/graph", url.Values{"file_id": {fileID}})
	if err != nil {
		return Graph{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Graph{}, apiError(resp)
	}

	var g Graph
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return Graph{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return g, nil
}

// Navigate moves the daemon's current pointer from currentNodeID to
// targetNodeID and returns the mode ("apply" or "revert") of the change
// instruction this queued.
func (c *Client) Navigate(ctx context.Context, fileID, currentNodeID, targetNodeID string) (string, error) {
	reqBody := struct {
		FileID        string `json:"file_id,omitempty"`
		CurrentNodeID string `json:"current_node_id"`
		TargetNodeID  string `json:"target_node_id"`
	}{fileID, currentNodeID, targetNodeID}

	resp, err := c.post(ctx, "/v1/navigate", reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var nav struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&nav); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return nav.Mode, nil
}

// Changes fetches the pending change queue for a file, oldest first.
// Polling never consumes the queue; call Ack once changes are applied.
func (c *Client) Changes(ctx context.Context, fileID string) ([]Change, error) {
	resp, err := c.get(ctx, "/v1/changes", url.Values{"file_id": {fileID}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var changes []Change
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return changes, nil
}

// Ack confirms that nodeIDs, which must be the exact head of the pending
// queue, have been applied. It returns the number of changes still pending.
func (c *Client) Ack(ctx context.Context, fileID string, nodeIDs []string) (int, error) {
	reqBody := struct {
		FileID  string   `json:"file_id,omitempty"`
		NodeIDs []string `json:"node_ids"`
	}{fileID, nodeIDs}

	resp, err := c.post(ctx, "/v1/ack", reqBody)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	var acked struct {
		RemainingPendingCount int `json:"remaining_pending_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&acked); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return acked.RemainingPendingCount, nil
}

// Files lists every file the daemon is tracking.
func (c *Client) Files(ctx context.Context) ([]FileInfo, error) {
	resp, err := c.get(ctx, "/v1/files", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var files []FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return files, nil
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	resp, err := c.get(ctx, "/healthz", nil)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, apiError(resp)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// GetEvents fetches recent journal events from the daemon, newest first.
func (c *Client) GetEvents(ctx context.Context, fileID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{"limit": {fmt.Sprintf("%d", limit)}}
	if fileID != "" {
		q.Set("file_id", fileID)
	}

	resp, err := c.get(ctx, "/v1/events", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return events, nil
}

// GetTrends fetches hourly activity stats based on filters.
func (c *Client) GetTrends(ctx context.Context, opts TrendsOptions) ([]ActivityStat, error) {
	q := url.Values{}
	if !opts.From.IsZero() {
		q.Set("from", opts.From.Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.Format(time.RFC3339))
	}
	if opts.FileID != "" {
		q.Set("file_id", opts.FileID)
	}
	if opts.EventType != "" {
		q.Set("event_type", opts.EventType)
	}

	resp, err := c.get(ctx, "/v1/trends", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var stats []ActivityStat
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return stats, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.endpoint + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// apiError turns a non-2xx response into an error, preserving the daemon's
// {"error":"..."} code when the body carries one.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("unexpected status: %d", resp.StatusCode)
}
