package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

const extractPrompt = `Extract the price-change details from the supplier email below.

Rules:
- Copy product identifiers exactly as written, including case and punctuation.
- Prices are plain numbers without currency symbols or thousands separators.
- effective_date is YYYY-MM-DD, or null if the email does not state one.
- Use null for any numeric value the email does not state. Never invent values.
- Set partial to true when the email clearly changes prices but some details
  (products, prices, dates) could not be captured; explain what is missing in notes.

Respond with strict JSON only:
{
  "supplier_name": "",
  "supplier_email": "",
  "supplier_erp_id": "",
  "effective_date": "YYYY-MM-DD or null",
  "change_reason": "",
  "notice_reference": "",
  "partial": false,
  "notes": "",
  "products": [
    {"product_id": "", "product_name": "", "old_price": null, "new_price": null, "currency": "", "uom": ""}
  ]
}

From: %s <%s>
Subject: %s

%s`

// extractBodyLimit caps the prompt body. Wider than the classifier's cap
// because line items often sit deep in the email.
const extractBodyLimit = 20000

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// GeminiConfig holds settings for the Gemini-backed extractor
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiExtractor implements Extractor using Google GenAI
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates a Gemini-backed structured extractor
func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig) (*GeminiExtractor, error) {
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

	return &GeminiExtractor{client: client, model: model}, nil
}

type extractedProduct struct {
	ProductID   string   `json:"product_id"`
	ProductName string   `json:"product_name"`
	OldPrice    *float64 `json:"old_price"`
	NewPrice    *float64 `json:"new_price"`
	Currency    string   `json:"currency"`
	UOM         string   `json:"uom"`
}

type extractedRecord struct {
	SupplierName    string             `json:"supplier_name"`
	SupplierEmail   string             `json:"supplier_email"`
	SupplierERPID   string             `json:"supplier_erp_id"`
	EffectiveDate   *string            `json:"effective_date"`
	ChangeReason    string             `json:"change_reason"`
	NoticeReference string             `json:"notice_reference"`
	Partial         bool               `json:"partial"`
	Notes           string             `json:"notes"`
	Products        []extractedProduct `json:"products"`
}

// Extract runs the extraction prompt and maps the response into a record
func (g *GeminiExtractor) Extract(ctx context.Context, content Content) (*models.PriceChangeRecord, error) {
	body := content.Body
	if len(body) > extractBodyLimit {
		body = body[:extractBodyLimit]
	}
	prompt := fmt.Sprintf(extractPrompt, content.SenderName, content.SenderEmail, content.Subject, body)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("gemini extraction failed: %w", err)
	}

	text := collectText(resp)
	if text == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var parsed extractedRecord
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fmt.Errorf("malformed extraction response: %w", err)
	}

	return buildRecord(parsed, content), nil
}

// buildRecord maps the raw extraction into a model record, filling gaps
// from the email envelope and downgrading to partial where data is missing
func buildRecord(parsed extractedRecord, content Content) *models.PriceChangeRecord {
	record := &models.PriceChangeRecord{
		SupplierName:    strings.TrimSpace(parsed.SupplierName),
		SupplierEmail:   strings.ToLower(strings.TrimSpace(parsed.SupplierEmail)),
		SupplierERPID:   strings.TrimSpace(parsed.SupplierERPID),
		ChangeReason:    strings.TrimSpace(parsed.ChangeReason),
		NoticeReference: strings.TrimSpace(parsed.NoticeReference),
		Partial:         parsed.Partial,
		ExtractionNotes: strings.TrimSpace(parsed.Notes),
		ExtractedAt:     time.Now(),
	}

	if record.SupplierEmail == "" {
		record.SupplierEmail = strings.ToLower(strings.TrimSpace(content.SenderEmail))
	}
	if record.SupplierName == "" {
		record.SupplierName = strings.TrimSpace(content.SenderName)
	}

	if parsed.EffectiveDate != nil {
		raw := strings.TrimSpace(*parsed.EffectiveDate)
		if raw != "" && !strings.EqualFold(raw, "null") {
			if ts, ok := parseEffectiveDate(raw); ok {
				record.EffectiveDate = ts
			} else {
				record.Partial = true
				record.ExtractionNotes = appendNote(record.ExtractionNotes,
					fmt.Sprintf("unparseable effective date %q", raw))
			}
		}
	}

	for i, p := range parsed.Products {
		record.Products = append(record.Products, models.ProductLineItem{
			Position:    i,
			ProductID:   strings.TrimSpace(p.ProductID),
			ProductName: strings.TrimSpace(p.ProductName),
			OldPrice:    p.OldPrice,
			NewPrice:    p.NewPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
			UOM:         strings.TrimSpace(p.UOM),
		})
	}

	if len(record.Products) == 0 {
		record.Partial = true
		record.ExtractionNotes = appendNote(record.ExtractionNotes, "no products captured")
	}

	return record
}

func parseEffectiveDate(raw string) (*time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, true
		}
	}
	return nil, false
}

func appendNote(notes, addition string) string {
	if notes == "" {
		return addition
	}
	return notes + "; " + addition
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
