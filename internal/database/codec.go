package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/vmihailenco/msgpack/v5"
)

// SampleRecordVersion is the current version of the serialized sample record.
const SampleRecordVersion = 1

// SampleRecord is the versioned on-disk form of a sample.
type SampleRecord struct {
	Version    int       `msgpack:"v"`
	Modality   string    `msgpack:"m"`
	Identity   string    `msgpack:"i"`
	Sequence   int       `msgpack:"s"`
	Dim        int       `msgpack:"d"`
	Embedding  []float32 `msgpack:"e"`
	AuxContent string    `msgpack:"a,omitempty"`
	CreatedAt  time.Time `msgpack:"t"`
}

// EncodeSample serializes a sample into a versioned record.
func EncodeSample(s biometric.Sample) ([]byte, error) {
	rec := SampleRecord{
		Version:    SampleRecordVersion,
		Modality:   string(s.Modality),
		Identity:   string(s.Identity),
		Sequence:   s.Sequence,
		Dim:        len(s.Embedding),
		Embedding:  s.Embedding,
		AuxContent: s.AuxContent,
		CreatedAt:  s.CreatedAt.UTC(),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode sample record: %w", err)
	}
	return data, nil
}

// DecodeSample parses a versioned record. Unknown versions and records whose
// embedding length disagrees with the stored dimension are rejected.
func DecodeSample(data []byte) (biometric.Sample, error) {
	var rec SampleRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return biometric.Sample{}, fmt.Errorf("decode sample record: %w", err)
	}
	if rec.Version != SampleRecordVersion {
		return biometric.Sample{}, fmt.Errorf("unsupported sample record version %d", rec.Version)
	}
	if rec.Dim != len(rec.Embedding) {
		return biometric.Sample{}, fmt.Errorf("corrupt sample record: dim %d, embedding length %d", rec.Dim, len(rec.Embedding))
	}
	return biometric.Sample{
		Modality:   biometric.Modality(rec.Modality),
		Identity:   biometric.Identity(rec.Identity),
		Sequence:   rec.Sequence,
		Embedding:  rec.Embedding,
		AuxContent: rec.AuxContent,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// EncodeEmbeddingJSON serializes an embedding as a JSON array of floats.
func EncodeEmbeddingJSON(embedding []float32) (string, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(data), nil
}

// DecodeEmbeddingJSON parses a JSON array of floats.
func DecodeEmbeddingJSON(data []byte) ([]float32, error) {
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return embedding, nil
}
