// Package speech transcribes spoken phrases for the two-factor voice check.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
)

// Transcriber converts audio to text. An empty transcript means nothing was
// recognized; transport failures are errors.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Name() string
}

// New returns the transcriber selected by cfg.Speech.Provider.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Transcriber, error) {
	var (
		t   Transcriber
		err error
	)
	switch cfg.Speech.Provider {
	case config.SpeechNone, "":
		t = None{}
	case config.SpeechOpenAI:
		t, err = NewOpenAI(cfg.OpenAI.Token, cfg.Speech.OpenAIModel)
	case config.SpeechGemini:
		t, err = NewGemini(ctx, cfg.Gemini.APIKey, cfg.Speech.GeminiModel)
	case config.SpeechHTTP:
		t = NewHTTP(cfg.Speech.URL)
	default:
		return nil, fmt.Errorf("unknown speech-to-text provider %q", cfg.Speech.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("speech-to-text provider selected", zap.String("provider", t.Name()))
	return WithTimeout(t, cfg.Extractor.Timeout), nil
}

// None never recognizes anything.
type None struct{}

func (None) Transcribe(context.Context, []byte) (string, error) { return "", nil }
func (None) Name() string                                       { return config.SpeechNone }

// IsNone reports whether t can never produce a transcript.
func IsNone(t Transcriber) bool {
	if t == nil {
		return true
	}
	if tt, ok := t.(*timeoutTranscriber); ok {
		t = tt.next
	}
	_, ok := t.(None)
	return ok
}

// WithTimeout bounds every transcription by timeout.
func WithTimeout(next Transcriber, timeout time.Duration) Transcriber {
	if timeout <= 0 {
		return next
	}
	return &timeoutTranscriber{next: next, timeout: timeout}
}

type timeoutTranscriber struct {
	next    Transcriber
	timeout time.Duration
}

func (t *timeoutTranscriber) Name() string { return t.next.Name() }

func (t *timeoutTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	text, err := t.next.Transcribe(callCtx, audio)
	if err == nil {
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: transcription: %w", biometric.ErrExtractionTimeout, err)
	}
	return "", err
}

// Lazy transcribes one audio sample at most once. It is safe for concurrent
// use and implements matching.AuxSource.
type Lazy struct {
	t     Transcriber
	audio []byte

	once sync.Once
	text string
	err  error
}

// NewLazy defers transcription of audio until the first Text call.
func NewLazy(t Transcriber, audio []byte) *Lazy {
	return &Lazy{t: t, audio: audio}
}

// Text returns the transcript, computing it on first use.
func (l *Lazy) Text(ctx context.Context) (string, error) {
	l.once.Do(func() {
		if l.t == nil {
			return
		}
		l.text, l.err = l.t.Transcribe(ctx, l.audio)
	})
	return l.text, l.err
}
