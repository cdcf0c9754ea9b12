package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the thin HTTP client the CLI subcommands use to talk to a
// running admin Server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:2021").
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling admin API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin API %s %s returned %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start calls POST /start.
func (c *Client) Start() (*statusResponse, error) {
	var resp statusResponse
	if err := c.do(http.MethodPost, "/start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop calls POST /stop.
func (c *Client) Stop() error {
	return c.do(http.MethodPost, "/stop", nil, nil)
}

// Status calls GET /status.
func (c *Client) Status() (*statusResponse, error) {
	var resp statusResponse
	if err := c.do(http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FilterView calls GET /filter.
func (c *Client) FilterView() ([]string, error) {
	var hosts []string
	err := c.do(http.MethodGet, "/filter", nil, &hosts)
	return hosts, err
}

// FilterAdd calls POST /filter/add.
func (c *Client) FilterAdd(host string) error {
	return c.do(http.MethodPost, "/filter/add", hostRequest{Host: host}, nil)
}

// FilterRemove calls POST /filter/remove.
func (c *Client) FilterRemove(host string) error {
	return c.do(http.MethodPost, "/filter/remove", hostRequest{Host: host}, nil)
}

// CacheView calls GET /cache.
func (c *Client) CacheView() ([]string, error) {
	var urls []string
	err := c.do(http.MethodGet, "/cache", nil, &urls)
	return urls, err
}

// CacheClear calls POST /cache/clear.
func (c *Client) CacheClear() error {
	return c.do(http.MethodPost, "/cache/clear", nil, nil)
}

// LogsView calls GET /logs.
func (c *Client) LogsView() ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/logs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// LogsClear calls POST /logs/clear.
func (c *Client) LogsClear() error {
	return c.do(http.MethodPost, "/logs/clear", nil, nil)
}
