package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcriptionPrompt asks the model for a faithful transcription rather than
// interpreted fields. Field extraction and validation happen downstream on
// the raw text, so the same pipeline works no matter which engine produced it.
const transcriptionPrompt = `You are transcribing a receipt or invoice photograph. Read every piece of text in the image, top to bottom, exactly as printed.

Return ONLY valid JSON in this exact format:
{
  "text": "line one\nline two\nline three",
  "items": [{"name": "Item name", "price": 0.00}]
}

Important:
- "text" must contain the full transcription with one receipt line per text line, joined with \n
- Keep amounts, dates and punctuation exactly as printed (e.g. "$12.34", "01-02-2025")
- "items" lists the individual purchased line items with their printed prices as numbers
- If there are no discernible line items, use an empty array
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Engine interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Engine instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Recognize transcribes a slip image into raw text plus line items
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType string) (*Transcript, error) {
	pngData, err := normalizeImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(transcriptionPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	transcript, err := parseTranscriptJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	return transcript, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
