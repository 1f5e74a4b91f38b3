package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/siegeup/hostagent/pkg/logsink"
	"github.com/siegeup/hostagent/pkg/types"
)

const requestTimeout = 30 * time.Second

// Client talks to a host agent's control API. Agents serve self-signed
// certificates, so verification is skipped; the orchestrator pins agents by
// address, not by CA.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the agent at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		baseURL: "https://" + addr,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Status fetches the agent's full status snapshot.
func (c *Client) Status(ctx context.Context) (*types.StatusReport, error) {
	var report types.StatusReport
	if err := c.getJSON(ctx, "/status", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Launch replaces the agent's desired-server set.
func (c *Client) Launch(ctx context.Context, servers []types.DesiredServer) error {
	body, err := json.Marshal(map[string]interface{}{"servers": servers})
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}
	return c.post(ctx, "/launch", "application/json", bytes.NewReader(body))
}

// Restart stops the server on a port so the agent respawns it.
func (c *Client) Restart(ctx context.Context, port int) error {
	return c.post(ctx, fmt.Sprintf("/restart?port=%d", port), "", nil)
}

// Upload streams a build archive to the agent. The version is derived from
// the file name on the agent side.
func (c *Client) Upload(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("gameZip", filepath.Base(archivePath))
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish upload form: %w", err)
	}

	return c.post(ctx, "/upload", mw.FormDataContentType(), &body)
}

// Logs fetches the tail of the index-th most recent log for a port.
func (c *Client) Logs(ctx context.Context, port, index int) (*logsink.TailResult, error) {
	path := fmt.Sprintf("/logs/%d?index=%s", port, url.QueryEscape(fmt.Sprint(index)))

	var tail logsink.TailResult
	if err := c.getJSON(ctx, path, &tail); err != nil {
		return nil, err
	}
	return &tail, nil
}

// Purge asks the agent to delete build versions no running server uses.
// It returns the removed version names.
func (c *Client) Purge(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/purge", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Purged []string `json:"purged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Purged, nil
}

// Update tells the agent to stop everything and exit so its service manager
// restarts it.
func (c *Client) Update(ctx context.Context) error {
	return c.post(ctx, "/update", "", nil)
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// checkStatus surfaces the agent's error message on non-2xx responses.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("agent answered %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("agent answered %s", resp.Status)
}
