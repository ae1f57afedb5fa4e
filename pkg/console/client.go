// Package console is the HTTP client for the Lectern backend API. It carries
// the CRUD wrappers the CLI needs (sessions, chunks, RAG settings, models,
// document upload) and implements the status-fetch and artifact-probe
// contracts consumed by pkg/supervise.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultUploadRate = 4 // uploads per second
)

// Config for a Client. Zero values use defaults.
type Config struct {
	// BaseURL of the backend, e.g. https://api.example.edu
	BaseURL string
	// APIKey is sent as Authorization: Bearer <key> when set.
	APIKey string
	// Timeout bounds each request.
	Timeout time.Duration
	// UploadRate throttles document uploads (requests per second).
	UploadRate float64
}

// Client talks to the backend. All methods take a context and return wrapped
// errors; status fetches additionally classify failures as TransportErrors
// for the supervisor (see status.go).
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", u.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	uploadRate := cfg.UploadRate
	if uploadRate <= 0 {
		uploadRate = defaultUploadRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(uploadRate), 1),
		logger:  logger,
	}, nil
}

// newRequest builds a request with auth and a fresh correlation id.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Correlation-ID", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doJSON executes a JSON request and decodes the response into out (when
// non-nil). Non-2xx responses become errors carrying the body's message.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// apiError extracts the backend's error message when the body carries the
// standard envelope, falling back to the raw status.
func apiError(method, path string, resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(b, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s %s: %s (%s)", method, path, envelope.Error.Message, resp.Status)
	}
	return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
}

// ListSessions returns all sessions visible to the caller.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a session with the given display name.
func (c *Client) CreateSession(ctx context.Context, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	var out Session
	in := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session and all of its documents and chunks.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// ListChunks returns a page of chunks for a session.
func (c *Client) ListChunks(ctx context.Context, sessionID string, limit, offset int) ([]Chunk, int, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out struct {
		Chunks []Chunk `json:"chunks"`
		Total  int     `json:"total"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/chunks"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Chunks, out.Total, nil
}

// GetRAGSettings fetches the session's retrieval settings.
func (c *Client) GetRAGSettings(ctx context.Context, sessionID string) (*RAGSettings, error) {
	var out RAGSettings
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/rag"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRAGSettings applies the non-nil fields of settings and returns the
// resulting state.
func (c *Client) UpdateRAGSettings(ctx context.Context, sessionID string, settings RAGSettings) (*RAGSettings, error) {
	var out RAGSettings
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/rag"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, settings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels returns the models available for embedding and chat.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/models", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// UploadDocument streams one local file into the session. Uploads are rate
// limited so a large ingest batch does not hammer the backend.
func (c *Client) UploadDocument(ctx context.Context, sessionID, path string) (*UploadReceipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	apiPath := "/v1/sessions/" + url.PathEscape(sessionID) + "/documents"
	req, err := c.newRequest(ctx, http.MethodPost, apiPath, nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(http.MethodPost, apiPath, resp)
	}

	var receipt UploadReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("upload %s: decode response: %w", filepath.Base(path), err)
	}

	c.logger.Debug("Uploaded document",
		zap.String("session_id", sessionID),
		zap.String("file", filepath.Base(path)),
		zap.String("document_id", receipt.DocumentID))

	return &receipt, nil
}

// StartIngestion kicks off a server-side batch-ingestion job over the
// session's pending documents and returns the job id to supervise.
func (c *Client) StartIngestion(ctx context.Context, sessionID string, opts IngestOptions) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/ingestions"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, opts, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("backend accepted ingestion but returned no job id")
	}
	return out.JobID, nil
}
