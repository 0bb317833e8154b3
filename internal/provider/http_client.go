package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/cutout/internal/logging"
)

// DefaultTimeout bounds one provider round trip so a slow provider can never
// hang a serving goroutine.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnknownProvider is returned for names with no configured endpoint.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrMissingAPIKey is returned when the endpoint has no key configured.
	ErrMissingAPIKey = errors.New("provider: api key not configured")
)

// Endpoint is one configured provider API.
type Endpoint struct {
	URL    string
	APIKey string
}

// HTTPClient calls provider APIs over HTTP multipart uploads.
type HTTPClient struct {
	endpoints map[string]Endpoint
	httpc     *http.Client
	timeout   time.Duration
	logger    *zap.Logger
}

// NewHTTPClient builds a provider client for the configured endpoints. A
// non-positive timeout falls back to DefaultTimeout.
func NewHTTPClient(endpoints map[string]Endpoint, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		endpoints: endpoints,
		httpc:     &http.Client{},
		timeout:   timeout,
		logger:    logger.Named("provider"),
	}
}

// Remove implements Client.
func (c *HTTPClient) Remove(ctx context.Context, name string, image []byte) ([]byte, error) {
	endpoint, ok := c.endpoints[name]
	if !ok {
		return nil, logging.NewOperationError("provider.remove", "", fmt.Errorf("%w: %q", ErrUnknownProvider, name))
	}
	if endpoint.APIKey == "" {
		return nil, logging.NewOperationError("provider.remove", "", fmt.Errorf("%w: %q", ErrMissingAPIKey, name))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image_file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("provider: create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("provider: write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("provider: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, body)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("provider.remove", "", err)
		c.logger.Warn("provider call failed", zap.String("provider", name), zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("provider: %s returned status %d", name, resp.StatusCode)
		c.logger.Warn("provider rejected request", zap.String("provider", name), zap.Int("status", resp.StatusCode))
		return nil, logging.NewOperationError("provider.remove", "", err)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, logging.NewOperationError("provider.remove", "", err)
	}
	if len(out) == 0 {
		return nil, logging.NewOperationError("provider.remove", "", fmt.Errorf("provider: %s returned an empty body", name))
	}
	return out, nil
}
