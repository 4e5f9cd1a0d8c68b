package extractor

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

	"github.com/kozaktomas/bioauth/internal/biometric"
)

const defaultExtractorURL = "http://localhost:8000"

// Client computes embeddings using the model server
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new model server client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// subjectDetection represents a single detected face or speaker
type subjectDetection struct {
	Index     int       `json:"index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Score     float64   `json:"score"`
}

// embedResponse represents the response from the embed endpoints
type embedResponse struct {
	Count    int                `json:"count"`
	Subjects []subjectDetection `json:"subjects"`
	Model    string             `json:"model"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
}

// postMultipartSample posts the sample as the multipart "file" field with a
// Content-Type detected from its magic bytes.
func (c *Client) postMultipartSample(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mimeType, ext := DetectMIMEType(data)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="sample%s"`, ext))
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write sample data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Extract computes the embedding of the only subject in the sample
func (c *Client) Extract(ctx context.Context, modality biometric.Modality, raw []byte) (Embedding, error) {
	body, err := c.postMultipartSample(ctx, "/embed/"+string(modality), raw)
	if err != nil {
		if ctx.Err() != nil {
			return Embedding{}, err
		}
		return Embedding{}, fmt.Errorf("%w: %w", biometric.ErrExtractionFailed, err)
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Embedding{}, fmt.Errorf("%w: failed to parse response: %w", biometric.ErrExtractionFailed, err)
	}

	count := resp.Count
	if count == 0 {
		count = len(resp.Subjects)
	}
	switch {
	case count == 0:
		return Embedding{}, biometric.ErrNoSubjectDetected
	case count > 1:
		return Embedding{}, fmt.Errorf("%w: found %d", biometric.ErrMultipleSubjectsDetected, count)
	case len(resp.Subjects) == 0 || len(resp.Subjects[0].Embedding) == 0:
		return Embedding{}, fmt.Errorf("%w: empty embedding returned", biometric.ErrExtractionFailed)
	}

	subject := resp.Subjects[0]
	if subject.Dim != 0 && subject.Dim != len(subject.Embedding) {
		return Embedding{}, fmt.Errorf("%w: reported dim %d, got %d values",
			biometric.ErrExtractionFailed, subject.Dim, len(subject.Embedding))
	}

	return Embedding{
		Vector: subject.Embedding,
		Model:  resp.Model,
		Score:  subject.Score,
	}, nil
}

// Ping checks the model server health endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("extractor unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extractor health check returned status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		// A plain 200 without a body is a healthy server.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse health response: %w", err)
	}
	if health.Status != "" && !health.ModelsLoaded {
		return errors.New("extractor models not loaded")
	}
	return nil
}
