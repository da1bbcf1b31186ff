// Package client is a Go client for the voice service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/book-expert/voice-service/internal/core"
)

// API endpoints and paths.
const (
	apiHealth = "/health"
	apiSTT    = "/stt"
	apiTTS    = "/tts"
)

// HTTP headers and form fields.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	formFieldAudio    = "audio"
	defaultUploadName = "audio.webm"
)

// Errors returned by the client.
var (
	ErrEmptyText             = errors.New("text cannot be empty")
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrServiceUnhealthy      = errors.New("voice service is not healthy")
)

const (
	errFmtMarshal         = "failed to marshal request: %w"
	errFmtCreateRequest   = "failed to create request: %w"
	errFmtSend            = "failed to send request to voice service at %s: %w"
	errFmtReadAudio       = "failed to read audio data: %w"
	errFmtContentType     = "%w: expected audio/wav, got %s"
	errFmtServiceDetail   = "voice service error (%s): %s"
	errFmtServiceNonOK    = "voice service returned non-OK status: %s, body: %s"
	errFmtBuildForm       = "failed to build upload form: %w"
	errFmtDecodeResponse  = "failed to decode response: %w"
	errFmtHealthStatus    = "%w: status %s"
	errFmtHealthNotOK     = "%w: ok=false"
	defaultRequestTimeout = 5 * time.Minute
)

// Client talks to a running voice service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TranscriptionResponse is the JSON body of a successful transcription.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// New creates a client for baseURL, e.g. "http://localhost:8000". A zero
// timeout uses a generous default suited to first-request model loading.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf(errFmtCreateRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtSend, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(errFmtHealthStatus, ErrServiceUnhealthy, resp.Status)
	}

	var health HealthResponse

	err = json.NewDecoder(resp.Body).Decode(&health)
	if err != nil {
		return fmt.Errorf(errFmtDecodeResponse, err)
	}

	if !health.OK {
		return fmt.Errorf(errFmtHealthNotOK, ErrServiceUnhealthy)
	}

	return nil
}

// Synthesize requests speech for req and returns the WAV bytes.
func (c *Client) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtMarshal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiTTS, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtSend, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtContentType, ErrUnexpectedContentType, contentType)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadAudio, err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return audio, nil
}

// Transcribe uploads audio under filename and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if filename == "" {
		filename = defaultUploadName
	}

	var form bytes.Buffer

	writer := multipart.NewWriter(&form)

	part, err := writer.CreateFormFile(formFieldAudio, filename)
	if err != nil {
		return "", fmt.Errorf(errFmtBuildForm, err)
	}

	_, err = io.Copy(part, audio)
	if err != nil {
		return "", fmt.Errorf(errFmtBuildForm, err)
	}

	err = writer.Close()
	if err != nil {
		return "", fmt.Errorf(errFmtBuildForm, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSTT, &form)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateRequest, err)
	}

	req.Header.Set(headerContentType, writer.FormDataContentType())
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf(errFmtSend, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseErrorResponse(resp)
	}

	var result TranscriptionResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", fmt.Errorf(errFmtDecodeResponse, err)
	}

	return result.Text, nil
}

// parseErrorResponse prefers the service's JSON detail and falls back to the
// raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceDetail, resp.Status, errorResp.Detail)
	}

	return fmt.Errorf(errFmtServiceNonOK, resp.Status, string(body))
}
