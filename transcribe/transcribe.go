// Package transcribe turns recorded audio into text through an
// OpenAI-compatible speech-to-text endpoint.
package transcribe

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

	"github.com/tbxark/formchat/types"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

type Config struct {
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Language string        `json:"language"`
	Timeout  time.Duration `json:"-"`
}

type HTTPTranscriber struct {
	config     Config
	httpClient *http.Client
}

func NewHTTPTranscriber(config Config) *HTTPTranscriber {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &HTTPTranscriber{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe fails with types.ErrTranscription for empty input, transport
// failures, non-2xx responses and empty transcripts.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", types.ErrTranscription)
	}
	body, contentType, err := t.buildForm(audio, format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTranscription, err)
	}

	url := strings.TrimRight(t.config.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", types.ErrTranscription, err)
	}
	req.Header.Set("Content-Type", contentType)
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTranscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", fmt.Errorf("%w: status %d: %s", types.ErrTranscription, resp.StatusCode, string(snippet))
	}
	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", types.ErrTranscription, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: no results", types.ErrTranscription)
	}
	return text, nil
}

func (t *HTTPTranscriber) buildForm(audio []byte, format string) (io.Reader, string, error) {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" || format == "unknown" {
		format = "webm"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"model": t.config.Model, "response_format": "json"}
	if t.config.Language != "" {
		fields["language"] = t.config.Language
	}
	for _, key := range []string{"model", "response_format", "language"} {
		if value, ok := fields[key]; ok {
			if err := w.WriteField(key, value); err != nil {
				return nil, "", err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// EncodingHint derives an audio format from a content type such as "audio/webm;codecs=opus",
// falling back to the filename extension.
func EncodingHint(contentType, filename string) string {
	if contentType != "" {
		subtype := contentType
		if i := strings.Index(subtype, "/"); i >= 0 {
			subtype = subtype[i+1:]
		}
		if i := strings.Index(subtype, ";"); i >= 0 {
			subtype = subtype[:i]
		}
		if subtype = strings.TrimSpace(subtype); subtype != "" {
			return subtype
		}
	}
	if i := strings.LastIndex(filename, "."); i >= 0 && i < len(filename)-1 {
		return filename[i+1:]
	}
	return "unknown"
}

var _ Transcriber = (*HTTPTranscriber)(nil)
