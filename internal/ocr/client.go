package ocr

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Client calls the Python OCR service over HTTP.
//
// The underlying http.Client carries no timeout and requests are not tied to
// the caller's context: a hung collaborator stalls the request, and a client
// disconnect does not abort an in-flight forward. Both match the original
// gateway and are flagged as hardening opportunities, not bugs.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{}}
}

// ProcessImageStepwise re-encodes the upload as a multipart body, POSTs it to
// /process_image_stepwise and returns the raw response body. The upstream
// HTTP status is deliberately ignored; callers decide by decoding the body.
func (c *Client) ProcessImageStepwise(filename string, file io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("ocr-service multipart: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("ocr-service multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ocr-service multipart: %w", err)
	}

	resp, err := c.httpClient.Post(
		c.baseURL+"/process_image_stepwise",
		writer.FormDataContentType(),
		&buf,
	)
	if err != nil {
		return nil, fmt.Errorf("ocr-service /process_image_stepwise: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ocr-service /process_image_stepwise: read: %w", err)
	}
	return body, nil
}
