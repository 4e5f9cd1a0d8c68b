package extractor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// DecodeSample decodes a base64 sample, optionally carrying a data URL
// prefix, and checks it is a container the modality accepts.
func DecodeSample(modality biometric.Modality, s string, maxBytes int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &biometric.ValidationError{Field: "raw_sample", Code: biometric.CodeMissingField, Message: "sample is required"}
	}
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 || !strings.HasSuffix(s[:idx], ";base64") {
			return nil, invalidSample("data URL must be base64 encoded")
		}
		s = s[idx+1:]
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(s)) > maxBytes+2 {
		return nil, invalidSample(fmt.Sprintf("sample exceeds %d bytes", maxBytes))
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, invalidSample("sample is not valid base64")
		}
	}
	if len(data) == 0 {
		return nil, &biometric.ValidationError{Field: "raw_sample", Code: biometric.CodeMissingField, Message: "sample is empty"}
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, invalidSample(fmt.Sprintf("sample exceeds %d bytes", maxBytes))
	}

	if err := ValidateSample(modality, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateSample checks that data is an image (face) or an audio container
// (voice).
func ValidateSample(modality biometric.Modality, data []byte) error {
	switch modality {
	case biometric.ModalityFace:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return invalidSample("sample is not a supported image")
		}
		if cfg.Width == 0 || cfg.Height == 0 {
			return invalidSample("image has no pixels")
		}
	case biometric.ModalityVoice:
		if mime, _ := DetectMIMEType(data); !strings.HasPrefix(mime, "audio/") {
			return invalidSample("sample is not a supported audio container")
		}
	default:
		return &biometric.ValidationError{Field: "modality", Code: biometric.CodeInvalidRequest, Message: "unknown modality " + string(modality)}
	}
	return nil
}

func invalidSample(msg string) error {
	return &biometric.ValidationError{Field: "raw_sample", Code: biometric.CodeInvalidSample, Message: msg}
}

// DetectMIMEType detects the MIME type and file extension from magic bytes
func DetectMIMEType(data []byte) (string, string) {
	switch {
	case len(data) < 4:
		return "application/octet-stream", ""
	// JPEG: FF D8 FF
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg", ".jpg"
	// PNG: 89 50 4E 47
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png", ".png"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif", ".gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp", ".bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff", ".tiff"
	// RIFF container: WebP or WAV
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp", ".webp"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WAVE":
		return "audio/wav", ".wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg", ".ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "audio/flac", ".flac"
	// EBML header
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm", ".webm"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "audio/mpeg", ".mp3"
	// MPEG audio frame sync
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg", ".mp3"
	}
	return "application/octet-stream", ""
}
