// Package stt is the speech-to-text transport: a single HTTP backend that
// accepts a WAV container and returns transcribed text.
package stt

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
)

// ErrSTT wraps all external-service failures from the STT backend.
var ErrSTT = errors.New("stt")

// Result is the decoded response of a transcription request.
type Result struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// Client posts WAV audio to an HTTP STT backend and polls its health.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8090").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Transcribe posts wavBytes (a full WAV container, PCM16 mono 16kHz) as the
// multipart form field "audio", with an optional lang hint, and decodes the
// {text, lang} JSON response. A non-200 status is an external service
// failure wrapped in ErrSTT.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte, lang string) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if lang != "" {
		if err := writer.WriteField("lang", lang); err != nil {
			return Result{}, fmt.Errorf("%w: encode lang field: %v", ErrSTT, err)
		}
	}

	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create form file: %v", ErrSTT, err)
	}
	if _, err := part.Write(wavBytes); err != nil {
		return Result{}, fmt.Errorf("%w: write audio: %v", ErrSTT, err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: close multipart writer: %v", ErrSTT, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrSTT, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: request: %v", ErrSTT, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrSTT, resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrSTT, err)
	}
	return result, nil
}

// Healthy reports whether GET /healthz returns {"ok": true} with a 200
// status.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.OK
}
