// Package gateway is the authenticated HTTP client for the backend.
//
// A Client starts unconfigured and is configured exactly once with the
// session's ServerConfig. Every request carries the bearer token. Requests
// before configuration fail with ConfigurationError without touching the
// network. Nothing retries; callers decide.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/iox"
	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

// DefaultTimeout bounds the short calls: health, file list and transfer
// status. Login, downloads and uploads run as long as the caller's context
// allows, since a browser flow or a large file can take minutes.
const DefaultTimeout = 30 * time.Second

// Endpoint paths.
const (
	PathHealth   = "/"
	PathLogin    = "/auth/login"
	PathFiles    = "/auth/files"
	PathStatus   = "/drive/status/"
	PathDownload = "/drive/download/"
	PathUpload   = "/drive/upload"
)

// Client talks to the backend.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.RWMutex
	cfg     types.ServerConfig
	baseURL string
	ready   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout for short calls. The http.Client itself is
// not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Client) { c.collector = m }
}

// New creates an unconfigured client.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure binds the client to cfg. Only the first call succeeds; later
// calls return a ConfigurationError wrapping ErrAlreadyConfigured and leave
// the existing binding untouched.
func (c *Client) Configure(cfg types.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigurationError{Op: "configure", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return &ConfigurationError{Op: "configure", Err: ErrAlreadyConfigured}
	}
	c.cfg = cfg
	c.baseURL = cfg.BaseURL()
	c.ready = true

	c.logger.Info("gateway configured", map[string]any{
		"base_url": c.baseURL,
		"token":    cfg.TokenPrefix(),
	})
	return nil
}

// Configured reports whether Configure has succeeded.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// BaseURL returns the bound base URL, or "" when unconfigured.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// response is a fully read 2xx response.
type response struct {
	header http.Header
	body   []byte
}

// bounded applies the short-call timeout to ctx.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// do performs one request and classifies failures. The body is read under
// ctx, so ctx bounds the whole exchange.
func (c *Client) do(ctx context.Context, method, p string, payload any) (*response, error) {
	c.mu.RLock()
	ready, base, token := c.ready, c.baseURL, c.cfg.Token
	c.mu.RUnlock()

	if !ready {
		return nil, &ConfigurationError{Op: method + " " + p, Err: ErrNotConfigured}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+p, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.collector.IncGatewayRequest()
	resp, err := c.http.Do(req)
	if err != nil {
		c.collector.IncNetworkError()
		return nil, &NetworkError{Method: method, Path: p, Err: err}
	}
	defer iox.DrainClose(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.collector.IncNetworkError()
		return nil, &NetworkError{Method: method, Path: p, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		c.collector.IncAuthRejected()
		c.logger.Error("backend rejected session token", map[string]any{
			"method": method,
			"path":   p,
		})
		return nil, &AuthRejectedError{Method: method, Path: p, Body: strings.TrimSpace(string(data))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.collector.IncHTTPError()
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return &response{header: resp.Header, body: data}, nil
}

// doJSON performs a request and decodes the JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, p string, payload, out any) error {
	resp, err := c.do(ctx, method, p, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, p, err)
	}
	return nil
}

// HealthCheck calls GET /.
func (c *Client) HealthCheck(ctx context.Context) (*types.HealthCheck, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var out types.HealthCheck
	if err := c.doJSON(ctx, http.MethodGet, PathHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login calls POST /auth/login, which starts the backend's browser login
// flow and returns once it completes.
func (c *Client) Login(ctx context.Context) (*types.AuthResponse, error) {
	var out types.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, PathLogin, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles calls GET /auth/files.
func (c *Client) ListFiles(ctx context.Context) ([]types.DriveFile, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var out types.FileListResponse
	if err := c.doJSON(ctx, http.MethodGet, PathFiles, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// TransferStatus calls GET /drive/status/{key}.
func (c *Client) TransferStatus(ctx context.Context, key string) (*types.ProgressStatus, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var out types.ProgressStatus
	if err := c.doJSON(ctx, http.MethodGet, PathStatus+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadFile calls GET /drive/download/{id} and returns the bytes.
// The file name comes from Content-Disposition, falling back to id.
func (c *Client) DownloadFile(ctx context.Context, id string) (*types.DownloadedFile, error) {
	resp, err := c.do(ctx, http.MethodGet, PathDownload+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &types.DownloadedFile{
		ID:          id,
		Name:        dispositionFilename(resp.header.Get("Content-Disposition"), id),
		ContentType: resp.header.Get("Content-Type"),
		Data:        resp.body,
	}, nil
}

// UploadFile calls POST /drive/upload for a local path. The backend reads
// the file itself; name is the progress key.
func (c *Client) UploadFile(ctx context.Context, localPath, name string) (*types.UploadResult, error) {
	var out types.UploadResult
	req := types.UploadRequest{Path: localPath, Name: name}
	if err := c.doJSON(ctx, http.MethodPost, PathUpload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func dispositionFilename(header, fallback string) string {
	if header == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}
