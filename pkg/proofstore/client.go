/**
 * @description
 * This package provides a client for the proof-of-payment blob store. Customers
 * on the manual payment path upload a screenshot or PDF of their Paybill/bank
 * transfer; the blob store keeps the bytes and hands back a retrievable URL
 * that is attached to the manual payment record for the reviewer.
 */
package proofstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the blob storage service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new proof store client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured reports whether the client can accept uploads.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload stores the proof bytes and returns the retrievable reference URL.
func (c *Client) Upload(ctx context.Context, filename string, contentType string, content io.Reader) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("proof store base url is empty")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to buffer upload: %w", err)
	}
	if contentType != "" {
		_ = writer.WriteField("content_type", contentType)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/uploads/payment-proofs", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("proof store returned error status %d", resp.StatusCode)
	}

	var response uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if response.URL == "" {
		return "", fmt.Errorf("proof store response missing url")
	}

	return response.URL, nil
}
