package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
)

// Speech-to-text providers.
const (
	SpeechNone   = "none"
	SpeechOpenAI = "openai"
	SpeechGemini = "gemini"
	SpeechHTTP   = "http"
)

type Config struct {
	Store          StoreConfig
	Database       DatabaseConfig
	MariaDB        MariaDBConfig
	Badger         BadgerConfig
	Extractor      ExtractorConfig
	Speech         SpeechConfig
	OpenAI         OpenAIConfig
	Gemini         GeminiConfig
	Identify       IdentifyConfig
	Web            WebConfig
	Log            LogConfig
	Thresholds     ThresholdsConfig
	MaxSampleBytes int
}

type StoreConfig struct {
	Backend string // memory, badger, postgres or mariadb
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MariaDBConfig struct {
	DSN          string // e.g. bioauth:bioauth@tcp(mariadb:3306)/bioauth
	MaxOpenConns int
	MaxIdleConns int
}

type BadgerConfig struct {
	Dir      string
	InMemory bool
}

type ExtractorConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // bound on every extraction or transcription call
}

type SpeechConfig struct {
	Provider    string // none, openai, gemini or http
	URL         string // http provider base URL
	OpenAIModel string
	GeminiModel string
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type IdentifyConfig struct {
	Workers   int // concurrent identities evaluated per 1:N search
	Shortlist int // nearest samples considered, 0 searches exhaustively
}

type WebConfig struct {
	AllowedOrigins []string // CORS origins besides localhost
}

type LogConfig struct {
	Level  string
	Format string
}

type ThresholdsConfig struct {
	Face  ModalityThresholds `yaml:"face"`
	Voice ModalityThresholds `yaml:"voice"`
}

type ModalityThresholds struct {
	Metric          string  `yaml:"metric"`
	MaxDistance     float64 `yaml:"max_distance"`
	AcceptThreshold float64 `yaml:"accept_threshold"`
	MinimumSamples  int     `yaml:"minimum_samples"`
	EmbeddingDim    int     `yaml:"embedding_dim"`
	PhraseThreshold float64 `yaml:"phrase_threshold"`
	DualFactor      bool    `yaml:"dual_factor"`
}

// For returns the thresholds of a modality.
func (t ThresholdsConfig) For(m biometric.Modality) ModalityThresholds {
	if m == biometric.ModalityVoice {
		return t.Voice
	}
	return t.Face
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive Go duration such as "30s".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func loadThresholds() ThresholdsConfig {
	var t ThresholdsConfig
	if err := yaml.Unmarshal(thresholdsYAML, &t); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	t.Face.AcceptThreshold = envFloat("FACE_ACCEPT_THRESHOLD", t.Face.AcceptThreshold)
	t.Face.MinimumSamples = envInt("FACE_MINIMUM_SAMPLES", t.Face.MinimumSamples)
	t.Face.EmbeddingDim = envInt("FACE_EMBEDDING_DIM", t.Face.EmbeddingDim)

	t.Voice.AcceptThreshold = envFloat("VOICE_ACCEPT_THRESHOLD", t.Voice.AcceptThreshold)
	t.Voice.MinimumSamples = envInt("VOICE_MINIMUM_SAMPLES", t.Voice.MinimumSamples)
	t.Voice.EmbeddingDim = envInt("VOICE_EMBEDDING_DIM", t.Voice.EmbeddingDim)
	t.Voice.PhraseThreshold = envFloat("VOICE_PHRASE_THRESHOLD", t.Voice.PhraseThreshold)
	return t
}

func Load() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: strings.ToLower(envString("STORE_BACKEND", BackendMemory)),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MariaDB: MariaDBConfig{
			DSN:          os.Getenv("MARIADB_DSN"),
			MaxOpenConns: envInt("MARIADB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("MARIADB_MAX_IDLE_CONNS", 2),
		},
		Badger: BadgerConfig{
			Dir:      envString("BADGER_DIR", "./data/badger"),
			InMemory: envBool("BADGER_IN_MEMORY"),
		},
		Extractor: ExtractorConfig{
			URL:     envString("EXTRACTOR_URL", "http://localhost:8000"),
			Timeout: envDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		},
		Speech: SpeechConfig{
			Provider:    strings.ToLower(envString("STT_PROVIDER", SpeechNone)),
			URL:         envString("STT_URL", "http://localhost:8001"),
			OpenAIModel: envString("OPENAI_STT_MODEL", "whisper-1"),
			GeminiModel: envString("GEMINI_STT_MODEL", "gemini-2.5-flash"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Identify: IdentifyConfig{
			Workers:   envInt("IDENTIFY_WORKERS", 8),
			Shortlist: envInt("IDENTIFY_SHORTLIST", 0),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
		Thresholds:     loadThresholds(),
		MaxSampleBytes: envInt("MAX_SAMPLE_BYTES", 10<<20),
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory, BackendBadger:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL environment variable is required for the postgres backend"))
		}
	case BackendMariaDB:
		if c.MariaDB.DSN == "" {
			errs = append(errs, errors.New("MARIADB_DSN environment variable is required for the mariadb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Speech.Provider {
	case SpeechNone, SpeechHTTP:
	case SpeechOpenAI:
		if c.OpenAI.Token == "" {
			errs = append(errs, errors.New("OPENAI_TOKEN environment variable is required for the openai speech provider"))
		}
	case SpeechGemini:
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required for the gemini speech provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.Speech.Provider))
	}

	for _, m := range biometric.Modalities {
		t := c.Thresholds.For(m)
		if t.AcceptThreshold <= 0 || t.AcceptThreshold > 1 {
			errs = append(errs, fmt.Errorf("%s accept threshold %v must be in (0, 1]", m, t.AcceptThreshold))
		}
		if t.MinimumSamples < 1 {
			errs = append(errs, fmt.Errorf("%s minimum samples must be at least 1", m))
		}
		if t.PhraseThreshold < 0 || t.PhraseThreshold > 1 {
			errs = append(errs, fmt.Errorf("%s phrase threshold %v must be in [0, 1]", m, t.PhraseThreshold))
		}
	}

	return errors.Join(errs...)
}
