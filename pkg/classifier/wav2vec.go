package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Wav2VecClient calls the wav2vec inference service's /api/predict
// endpoint with a multipart-encoded audio file and decodes its
// {label, confidence, transcription} answer.
type Wav2VecClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWav2Vec creates a wav2vec classifier client.
func NewWav2Vec(baseURL string) *Wav2VecClient {
	return NewWav2VecWithClient(baseURL, &http.Client{})
}

// NewWav2VecWithClient creates a wav2vec classifier client with a custom
// HTTP client.
func NewWav2VecWithClient(baseURL string, client *http.Client) *Wav2VecClient {
	return &Wav2VecClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Name returns the classifier identifier.
func (c *Wav2VecClient) Name() string {
	return "wav2vec"
}

type wav2vecResponse struct {
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
	Transcription string  `json:"transcription,omitempty"`
}

// Classify posts one audio slice and returns the service's prediction.
func (c *Wav2VecClient) Classify(ctx context.Context, audio []byte, format string) (*Prediction, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ext := format
	if ext != "wav" && ext != "pcm" {
		ext = "wav"
	}
	fw, err := mw.CreateFormFile("file", "chunk."+ext)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/predict", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wav2vec request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("wav2vec error %d: %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out wav2vecResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if out.Label == "" {
		return nil, fmt.Errorf("wav2vec response missing label")
	}

	return &Prediction{
		Label:      out.Label,
		Confidence: out.Confidence,
		Raw:        raw,
	}, nil
}
