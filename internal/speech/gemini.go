package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kozaktomas/bioauth/internal/extractor"
)

const geminiTranscribePrompt = "Transcribe the spoken words in this audio verbatim. " +
	"Reply with the transcript only. Reply with an empty message if nothing is spoken."

// Gemini transcribes by sending the audio inline to a Gemini model.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini transcriber.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string {
	return "gemini/" + g.model
}

func (g *Gemini) Transcribe(ctx context.Context, audio []byte) (string, error) {
	mimeType, _ := extractor.DetectMIMEType(audio)
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: geminiTranscribePrompt},
				{InlineData: &genai.Blob{Data: audio, MIMEType: mimeType}},
			},
		},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}
