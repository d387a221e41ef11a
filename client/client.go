// Package client is a Go client for the filestore HTTP API.
//
// A Client talks to the /files subtree of one server:
//
//	c, err := client.New("http://localhost:8080/files/", nil)
//	b, err := c.CreateBucket(ctx, "photos")
//	err = b.UploadFile(ctx, "/tmp/cat.png", "")
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Minute

// FileInfo describes one file stored in a bucket.
type FileInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
}

// ServerError is returned when the server answers with a non-2xx status.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("filestore: server returned %d: %s", e.StatusCode, e.Message)
}

// errorBody mirrors the server's error JSON.
type errorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Client issues requests against a filestore server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a Client for the /files endpoint at baseURL. A nil httpClient
// means a client with a five minute timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: u, http: httpClient}, nil
}

// ListBuckets returns the names of all buckets, ascending.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, c.endpoint(), &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Bucket returns the named bucket. ok is false if no such bucket exists.
func (c *Client) Bucket(ctx context.Context, name string) (b *Bucket, ok bool, err error) {
	names, err := c.ListBuckets(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, n := range names {
		if n == name {
			return &Bucket{client: c, name: name}, true, nil
		}
	}
	return nil, false, nil
}

// CreateBucket creates a bucket and returns a handle to it.
func (c *Client) CreateBucket(ctx context.Context, name string) (*Bucket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(name))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if err := c.doDiscard(req); err != nil {
		return nil, err
	}
	return &Bucket{client: c, name: name}, nil
}

// DeleteBucket deletes a bucket together with all of its files.
func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(name), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.doDiscard(req)
}

// endpoint joins escaped path segments onto the base URL. A trailing empty
// segment yields a trailing slash.
func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.RawPath = c.base.EscapedPath() + strings.Join(escaped, "/")
	u.Path, _ = url.PathUnescape(u.RawPath)
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) doDiscard(req *http.Request) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do sends req and turns any non-2xx answer into a *ServerError. The caller
// owns the body of a successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	serr := &ServerError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		serr.Message = body.Message
	}
	return nil, serr
}
