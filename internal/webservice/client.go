// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every request when no timeout is configured.
	DefaultTimeout = 60 * time.Second

	zipContentType  = "application/zip"
	jsonContentType = "application/json"
	uploadFieldName = "file"

	// Response bodies larger than this are truncated.
	maxResponseBytes = 8 << 20
)

// Response is the decoded JSON object returned by the web service.
type Response map[string]any

// String returns the value under key if it is a non-empty string.
func (r Response) String(key string) (string, bool) {
	v, ok := r[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Client posts JSON documents and uploads files to the results web service.
// Requests are never retried.
type Client struct {
	httpClient *http.Client
	token      string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends an "Authorization: Bearer <token>" header on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client with the given request timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON sends payload as a JSON POST to url and returns the decoded response
// on 200 or 201.
func (c *Client) PostJSON(ctx context.Context, payload any, url string) (Response, error) {
	const op = "post json"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Data(op, fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", jsonContentType)

	c.logger.Debug("Posting JSON",
		zap.String("url", url),
		zap.Int("bytes", len(body)))

	return c.do(req, op)
}

// UploadFile sends the file at filePath as a multipart upload in form field
// "file" and returns the decoded response on 200 or 201.
func (c *Client) UploadFile(ctx context.Context, filePath, url string) (Response, error) {
	const op = "upload file"

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		f.Close()
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	go func() {
		defer f.Close()
		part, err := mw.CreatePart(fileHeader(uploadFieldName, filepath.Base(filePath), zipContentType))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	c.logger.Debug("Uploading file",
		zap.String("url", url),
		zap.String("file", filePath))

	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", jsonContentType)

	url := req.URL.String()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &TransportError{
			Op:         op,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	c.logger.Debug("Request succeeded",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode))

	out, err := decodeResponse(body)
	if err != nil {
		return nil, apperr.Data(op, fmt.Errorf("decode response from %s: %w", url, err))
	}
	return out, nil
}

// decodeResponse parses a JSON body. Non-object bodies are returned under "data".
func decodeResponse(body []byte) (Response, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Response{}, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return Response(m), nil
	}
	return Response{"data": v}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileHeader(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}
