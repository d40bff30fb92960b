// Package httputil holds the HTTP plumbing shared by the REST tracker client
// and the admin routes: an injectable transport, a small JSON request helper
// and JSON response writers.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// HTTPClient sends requests. *http.Client satisfies it; MockHTTPClient
// replaces it in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, strings.TrimSpace(string(e.Body)))
}

// JSONClient issues JSON requests against a base URL.
type JSONClient struct {
	BaseURL string
	Client  HTTPClient
	Header  http.Header
}

// NewJSONClient returns a client for baseURL. A nil client uses
// http.DefaultClient.
func NewJSONClient(baseURL string, c HTTPClient) *JSONClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &JSONClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: c, Header: make(http.Header)}
}

// Do sends in (if non-nil) as a JSON body to path and decodes a 2xx
// response into out (if non-nil). Non-2xx responses yield *StatusError.
func (c *JSONClient) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// Put uploads raw bytes to path.
func (c *JSONClient) Put(ctx context.Context, path, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.send(req, nil)
}

func (c *JSONClient) send(req *http.Request, out any) error {
	for k, v := range c.Header {
		req.Header[k] = v
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode, Body: b}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// MockHTTPClient returns queued responses in order and records requests.
type MockHTTPClient struct {
	mu        sync.Mutex
	DoFunc    func(req *http.Request) (*http.Response, error)
	Requests  []*http.Request
	Bodies    []string
	responses []mockResponse
	next      int
}

type mockResponse struct {
	status int
	body   string
	err    error
}

// NewMockHTTPClient creates an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Do records req and its body, then returns the next queued response or
// an empty 200 when the queue is drained.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	m.Requests = append(m.Requests, req)
	m.Bodies = append(m.Bodies, body)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	r := mockResponse{status: http.StatusOK, body: "{}"}
	if m.next < len(m.responses) {
		r = m.responses[m.next]
		m.next++
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
