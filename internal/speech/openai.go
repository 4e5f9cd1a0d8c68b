package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kozaktomas/bioauth/internal/extractor"
)

// OpenAI transcribes with the audio transcription endpoint.
type OpenAI struct {
	client *openai.Client
	model  openai.AudioModel
}

// NewOpenAI creates an OpenAI transcriber. Extra options are passed to the
// client, e.g. option.WithBaseURL.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI token is required")
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAI{client: &client, model: openai.AudioModel(model)}, nil
}

func (o *OpenAI) Name() string {
	return "openai/" + string(o.model)
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	mimeType, ext := extractor.DetectMIMEType(audio)
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: o.model,
		File:  openai.File(bytes.NewReader(audio), "phrase"+ext, mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
