// Package ctl implements the client commands of gatewayd against a running
// gateway.
package ctl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"gatewayd/pkg/types"
)

// APIError is a non-2xx gateway reply.
type APIError struct {
	Status int
	Detail types.ErrorDetail
}

func (e *APIError) Error() string {
	if e.Detail.Type != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Detail.Type, e.Detail.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Detail.Message)
}

func (e *APIError) StatusCode() int { return e.Status }

// Client is a minimal gateway HTTP client.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL. timeout bounds non-streaming calls.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.HTTP.Do(req)
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	e := &APIError{Status: resp.StatusCode}
	if r := gjson.GetBytes(b, "error"); r.IsObject() {
		_ = json.Unmarshal([]byte(r.Raw), &e.Detail)
	} else {
		e.Detail.Message = strings.TrimSpace(string(b))
	}
	return e
}

// getJSON decodes a GET reply into out. okStatuses lists extra statuses whose
// body is still a valid reply (e.g. 503 from /health).
func (c *Client) getJSON(ctx context.Context, path string, out any, okStatuses ...int) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	ok := resp.StatusCode/100 == 2
	for _, s := range okStatuses {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return resp.StatusCode, readAPIError(resp)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Models(ctx context.Context) (types.ModelsResponse, error) {
	var out types.ModelsResponse
	_, err := c.getJSON(ctx, "/v1/models", &out)
	return out, err
}

// Health returns the report also when the gateway answers 503.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	_, err := c.getJSON(ctx, "/health", &out, http.StatusServiceUnavailable)
	return out, err
}

func (c *Client) Load(ctx context.Context) (types.LoadResponse, error) {
	var out types.LoadResponse
	_, err := c.getJSON(ctx, "/v1/load", &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	_, err := c.getJSON(ctx, "/status", &out)
	return out, err
}

// Complete sends a buffered chat completion.
func (c *Client) Complete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	req.Stream = false
	var out types.ChatCompletionResponse
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return out, readAPIError(resp)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// Stream sends a streamed chat completion and calls onDelta for every
// content fragment. It returns the finish reason of the terminal chunk.
// An in-band error event is returned as *APIError.
func (c *Client) Stream(ctx context.Context, req types.ChatCompletionRequest, onDelta func(string) error) (string, error) {
	req.Stream = true
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", readAPIError(resp)
	}
	finish := ""
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return finish, nil
		}
		if e := gjson.Get(data, "error"); e.IsObject() {
			ae := &APIError{Status: int(e.Get("code").Int())}
			_ = json.Unmarshal([]byte(e.Raw), &ae.Detail)
			return finish, ae
		}
		if frag := gjson.Get(data, "choices.0.delta.content").String(); frag != "" && onDelta != nil {
			if err := onDelta(frag); err != nil {
				return finish, err
			}
		}
		if fr := gjson.Get(data, "choices.0.finish_reason"); fr.Type == gjson.String {
			finish = fr.String()
		}
	}
	if err := sc.Err(); err != nil {
		return finish, err
	}
	return finish, io.ErrUnexpectedEOF
}
