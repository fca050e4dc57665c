package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const classifyPrompt = `You are reviewing supplier emails for a manufacturing purchasing team.
Decide whether the email below announces a change to the prices of products the supplier sells us.

Price-change notices include: price increases or decreases, surcharges, revised price lists,
and notices with an effective date for new pricing.
Not price changes: invoices, order confirmations, shipping notices, quotes for new business,
marketing, and general correspondence.

Respond with strict JSON only, no prose:
{"is_price_change": true|false, "confidence": 0.0-1.0, "reasoning": "one sentence"}

From: %s <%s>
Subject: %s

%s`

// bodyLimit caps how much body text goes into the prompt. Price-change
// notices state their intent early; truncation keeps cost bounded.
const bodyLimit = 6000

// GeminiConfig holds settings for the Gemini-backed classifier
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClassifier implements Semantic using Google GenAI
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates a Gemini-backed semantic classifier
func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GeminiClassifier{client: client, model: model}, nil
}

// Classify asks the model for a verdict on the email content
func (g *GeminiClassifier) Classify(ctx context.Context, content Content) (Result, error) {
	body := content.Body
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}
	prompt := fmt.Sprintf(classifyPrompt, content.SenderName, content.SenderEmail, content.Subject, body)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return Result{}, fmt.Errorf("gemini classify failed: %w", err)
	}

	text := collectText(resp)
	if text == "" {
		return Result{}, fmt.Errorf("empty response from gemini")
	}

	var parsed struct {
		IsPriceChange bool    `json:"is_price_change"`
		Confidence    float64 `json:"confidence"`
		Reasoning     string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return Result{}, fmt.Errorf("malformed classifier response: %w", err)
	}

	return Result{
		IsPriceChange: parsed.IsPriceChange,
		Confidence:    parsed.Confidence,
		Reasoning:     parsed.Reasoning,
	}, nil
}

// collectText concatenates the text parts of the first candidate
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			out.WriteString(part.Text)
		}
	}
	return out.String()
}

// extractJSON tolerates markdown fences and surrounding prose around the
// JSON object a model was asked to return
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
