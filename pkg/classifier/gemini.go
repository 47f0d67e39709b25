package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

const geminiPrompt = `Analyze this audio clip and determine if it's a human speaking or an answering machine/voicemail greeting.

Answer in JSON format:
{"label": "human" or "voicemail", "confidence": 0.0-1.0, "reasoning": "brief explanation"}

Indicators of voicemail: formal greeting patterns, phrases like "please leave a message", "after the beep", "at the tone", robotic or recorded voice quality, long pauses before speaking.
Indicators of human: natural speech patterns, casual greetings ("hello?", "hi", "yeah"), background noise or interruptions, immediate response.`

// GeminiClient classifies audio by asking a Gemini multimodal model for
// a JSON answer. The model's free text is scanned for an embedded JSON
// object; when none is found the text itself is scored.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini classifier client.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Name returns the classifier identifier.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Classify sends one audio slice inline and parses the model's answer.
func (c *GeminiClient) Classify(ctx context.Context, audio []byte, format string) (*Prediction, error) {
	mime := "audio/wav"
	if format == "pcm" {
		mime = "audio/l16"
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: geminiPrompt},
			{InlineData: &genai.Blob{MIMEType: mime, Data: audio}},
		},
	}}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}
	return ParseGeminiAnswer(text), nil
}

var geminiJSONRe = regexp.MustCompile(`\{[^{}]+\}`)

// ParseGeminiAnswer extracts a prediction from the model's text. It
// first looks for an embedded JSON object; failing that it scores the
// raw text the way the original inference service did.
func ParseGeminiAnswer(text string) *Prediction {
	if m := geminiJSONRe.FindString(text); m != "" {
		var out struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(m), &out); err == nil && out.Label != "" {
			label := strings.ToLower(out.Label)
			if label != LabelHuman && label != LabelVoicemail {
				label = LabelHuman
			}
			return &Prediction{
				Label:      label,
				Confidence: out.Confidence,
				Raw:        json.RawMessage(m),
			}
		}
	}

	lower := strings.ToLower(text)
	p := &Prediction{Label: LabelHuman, Confidence: 0.5}
	switch {
	case strings.Contains(lower, "voicemail") || strings.Contains(lower, "machine"):
		p.Label = LabelVoicemail
		p.Confidence = 0.75
	case strings.Contains(lower, "human"):
		p.Confidence = 0.80
	}
	return p
}
