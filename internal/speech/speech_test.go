package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
)

var wavHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		speech   config.SpeechConfig
		openai   string
		gemini   string
		wantName string
		wantErr  string
	}{
		{name: "none", speech: config.SpeechConfig{Provider: "none"}, wantName: "none"},
		{name: "empty means none", speech: config.SpeechConfig{}, wantName: "none"},
		{name: "http", speech: config.SpeechConfig{Provider: "http", URL: "http://stt:8001"}, wantName: "http"},
		{name: "openai", speech: config.SpeechConfig{Provider: "openai", OpenAIModel: "whisper-1"}, openai: "sk-test", wantName: "openai/whisper-1"},
		{name: "openai without token", speech: config.SpeechConfig{Provider: "openai"}, wantErr: "OpenAI token"},
		{name: "gemini without key", speech: config.SpeechConfig{Provider: "gemini"}, wantErr: "Gemini API key"},
		{name: "unknown", speech: config.SpeechConfig{Provider: "siri"}, wantErr: "unknown speech-to-text provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Speech:    tt.speech,
				OpenAI:    config.OpenAIConfig{Token: tt.openai},
				Gemini:    config.GeminiConfig{APIKey: tt.gemini},
				Extractor: config.ExtractorConfig{Timeout: time.Second},
			}
			got, err := New(context.Background(), cfg, zap.NewNop())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name() != tt.wantName {
				t.Errorf("expected %s, got %s", tt.wantName, got.Name())
			}
			if IsNone(got) != (tt.wantName == "none") {
				t.Errorf("IsNone(%s) = %v", got.Name(), IsNone(got))
			}
		})
	}
}

func TestHTTP_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("expected audio/wav, got %s", ct)
		}
		_, _ = io.WriteString(w, `{"text":"  Open Sesame \n"}`)
	}))
	defer server.Close()

	text, err := NewHTTP(server.URL+"/").Transcribe(context.Background(), wavHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Open Sesame" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
}

func TestHTTP_TranscribeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := NewHTTP(server.URL).Transcribe(context.Background(), wavHeader); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestOpenAI_Transcribe(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"open sesame"}`)
	}))
	defer server.Close()

	o, err := NewOpenAI("sk-test", "", option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := o.Transcribe(context.Background(), wavHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "open sesame" {
		t.Errorf("expected transcript, got %q", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("expected default model whisper-1, got %q", gotModel)
	}
}

type slowTranscriber struct{}

func (slowTranscriber) Name() string { return "slow" }
func (slowTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	tr := WithTimeout(slowTranscriber{}, 10*time.Millisecond)
	if tr.Name() != "slow" {
		t.Errorf("expected wrapped name, got %s", tr.Name())
	}
	_, err := tr.Transcribe(context.Background(), nil)
	if !errors.Is(err, biometric.ErrExtractionTimeout) {
		t.Fatalf("expected ErrExtractionTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(slowTranscriber{}, time.Minute).Transcribe(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingTranscriber struct {
	calls atomic.Int32
	text  string
	err   error
}

func (c *countingTranscriber) Name() string { return "counting" }
func (c *countingTranscriber) Transcribe(context.Context, []byte) (string, error) {
	c.calls.Add(1)
	return c.text, c.err
}

func TestLazy_TranscribesOnce(t *testing.T) {
	ct := &countingTranscriber{text: "open sesame"}
	lazy := NewLazy(ct, wavHeader)

	if ct.calls.Load() != 0 {
		t.Fatal("transcription must not start before Text is called")
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := lazy.Text(context.Background())
			if err != nil || text != "open sesame" {
				t.Errorf("unexpected result %q, %v", text, err)
			}
		}()
	}
	wg.Wait()

	if got := ct.calls.Load(); got != 1 {
		t.Errorf("expected exactly one transcription, got %d", got)
	}
}

func TestLazy_KeepsError(t *testing.T) {
	ct := &countingTranscriber{err: errors.New("stt down")}
	lazy := NewLazy(ct, nil)

	for range 2 {
		if _, err := lazy.Text(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if ct.calls.Load() != 1 {
		t.Errorf("expected one call, got %d", ct.calls.Load())
	}
}

func TestLazy_NilTranscriber(t *testing.T) {
	text, err := NewLazy(nil, nil).Text(context.Background())
	if err != nil || text != "" {
		t.Errorf("expected empty transcript, got %q, %v", text, err)
	}
}
