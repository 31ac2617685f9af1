// Package indexapi calls the external URL indexing endpoint and maps its
// failures onto the pipeline's error classes.
package indexapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// DefaultEndpoint is the production publish endpoint.
const DefaultEndpoint = "https://indexing.googleapis.com/v3/urlNotifications:publish"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 8 << 10
)

// Config tunes the API client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client submits URL notifications over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// New constructs a Client. A nil httpClient gets a default with the
// configured timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: cfg.Endpoint, http: httpClient, logger: logger}
}

type publishRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// SubmitURL posts one notification. Failures come back classified so the
// dispatch loop can decide between retry, skip, pause, and fail.
func (c *Client) SubmitURL(ctx context.Context, req indexer.SubmitRequest) error {
	body, err := json.Marshal(publishRequest{URL: req.URL, Type: req.NotificationType})
	if err != nil {
		return indexer.NewError(indexer.ClassValidation, "encode publish request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return indexer.NewError(indexer.ClassValidation, "build publish request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return indexer.NewError(indexer.ClassTransient, "publish %s: %v", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return c.classifyFailure(req.URL, resp)
}

func (c *Client) classifyFailure(url string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := upstreamMessage(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	class := classForStatus(resp.StatusCode, message)
	c.logger.Debug("publish rejected",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.String("class", string(class)),
		zap.String("message", message),
	)
	return indexer.NewError(class, "publish %s: status %d: %s", url, resp.StatusCode, message)
}

// upstreamMessage extracts error.message from a JSON error body, or "".
func upstreamMessage(raw []byte) string {
	var parsed apiError
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// classForStatus maps an HTTP status onto an error class, letting the body
// text override when it carries a clearer signal (e.g. a 403 whose message
// says the quota is exhausted).
func classForStatus(status int, message string) indexer.ErrorClass {
	if class := indexer.ClassifyMessage(message); class == indexer.ClassQuota {
		return class
	}
	switch {
	case status == http.StatusTooManyRequests:
		return indexer.ClassQuota
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return indexer.ClassAuth
	case status == http.StatusBadRequest:
		return indexer.ClassValidation
	case status >= 500:
		return indexer.ClassTransient
	default:
		return indexer.ClassUnknown
	}
}
