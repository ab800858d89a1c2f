package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/models"
)

// client talks to a running tanya server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(serverURL string) *client {
	return &client{baseURL: strings.TrimSuffix(serverURL, "/"), http: http.DefaultClient}
}

// do sends a request with an optional JSON body. Non-2xx responses become errors
// carrying the server's message.
func (c *client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func (c *client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ask requests a complete answer.
func (c *client) Ask(ctx context.Context, req models.QueryRequest) (*models.Answer, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/query", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var ans models.Answer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ans, nil
}

// Stream requests a streamed answer and calls onToken with each increment. The
// no-grounding message is delivered through onToken as well. Returns the citations.
func (c *client) Stream(ctx context.Context, req models.QueryRequest, onToken func(string)) ([]models.Citation, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/query/stream", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var citations []models.Citation
	var failure error
	done := false
	err = cli.ReadEvents(resp.Body, func(name string, data []byte) error {
		switch name {
		case "citations":
			var payload struct {
				Citations []models.Citation `json:"citations"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("decode citations: %w", err)
			}
			citations = payload.Citations
		case "token":
			var payload struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("decode token: %w", err)
			}
			onToken(payload.Token)
		case "completion":
			var ans models.Answer
			if err := json.Unmarshal(data, &ans); err != nil {
				return fmt.Errorf("decode completion: %w", err)
			}
			if ans.NoGrounding {
				onToken(ans.RawText)
			}
		case "error":
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(data, &payload)
			failure = errors.New(payload.Message)
		case "done":
			done = true
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if !done {
		return nil, errors.New("stream ended before completion")
	}
	return citations, nil
}

// Stats returns fragment counts.
func (c *client) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	if err := c.getJSON(ctx, "/api/v1/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns recent answers, newest first.
func (c *client) List(ctx context.Context, limit int) ([]*models.Answer, error) {
	var out struct {
		Answers []*models.Answer `json:"answers"`
	}
	if err := c.getJSON(ctx, "/api/v1/history?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out.Answers, nil
}

// Get returns one past answer.
func (c *client) Get(ctx context.Context, id string) (*models.Answer, error) {
	var ans models.Answer
	if err := c.getJSON(ctx, "/api/v1/history/"+url.PathEscape(id), &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

// WatchDirectories lists watched directories.
func (c *client) WatchDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.getJSON(ctx, "/api/v1/watch/directories", &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddWatchDirectory starts watching path and ingests the files already in it.
func (c *client) AddWatchDirectory(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": path, "sync": true})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// RemoveWatchDirectory stops watching path.
func (c *client) RemoveWatchDirectory(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
