// Package client talks to a running imgembed server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/imgembed/internal/models"
	"github.com/hyperjump/imgembed/pkg/utils"
)

// APIError is a non-200 answer from the server.
type APIError struct {
	Status    int
	Kind      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Message)
}

// Client posts images to the /clip/encode endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	normalize  bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNormalize scales returned vectors to unit length.
func WithNormalize(normalize bool) Option {
	return func(c *Client) { c.normalize = normalize }
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8001".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode uploads an image and returns the server's response.
func (c *Client) Encode(ctx context.Context, filename string, data []byte) (*models.EmbeddingResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clip/encode", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp)
	}

	var out models.EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("no vector returned")
	}
	if c.normalize {
		utils.NormalizeL2(out.Vector)
	}
	return &out, nil
}

// EncodeVector is Encode returning only the vector.
func (c *Client) EncodeVector(ctx context.Context, filename string, data []byte) ([]float32, error) {
	out, err := c.Encode(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return out.Vector, nil
}

// Model fetches the loaded model description.
func (c *Client) Model(ctx context.Context) (*models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/model", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp)
	}
	var info models.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &info, nil
}

func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Kind != "" {
		apiErr.Kind = body.Error.Kind
		apiErr.Message = body.Error.Message
		apiErr.RequestID = body.RequestID
		return apiErr
	}
	apiErr.Message = utils.Truncate(strings.TrimSpace(string(data)), 512)
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
