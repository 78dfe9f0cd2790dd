// Package transcribe proxies recordings to a speech-to-text API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "whisper-1"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("transcription not configured")

// Result is what the speech-to-text API reports for one recording.
type Result struct {
	Text       string
	Language   *string
	Confidence *float64
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (Result, error)
}

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewWhisperClient builds a client. baseURL should include the /v1 prefix.
func NewWhisperClient(baseURL, apiKey, model string) *WhisperClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &WhisperClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Transcribe uploads audio as multipart form data and returns the text.
func (c *WhisperClient) Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.mp3"
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "audio/mpeg"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return Result{}, fmt.Errorf("buffer audio: %w", err)
	}
	_ = form.WriteField("model", c.model)
	_ = form.WriteField("response_format", "verbose_json")
	if err := form.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Result{}, fmt.Errorf("transcription api error: %s", errResp.Error.Message)
		}
		return Result{}, fmt.Errorf("transcription api error: %s", resp.Status)
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("transcription decode: %w", err)
	}
	res := Result{Text: strings.TrimSpace(out.Text)}
	if lang := strings.TrimSpace(out.Language); lang != "" {
		res.Language = &lang
	}
	return res, nil
}
