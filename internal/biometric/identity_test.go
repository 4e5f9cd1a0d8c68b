package biometric

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Identity
		code     string
	}{
		{"numeric", "42", "42", ""},
		{"numeric with leading zeros", "007", "7", ""},
		{"max int32", "2147483647", "2147483647", ""},
		{"too large", "2147483648", "", CodeInvalidIdentity},
		{"zero", "0", "", CodeInvalidIdentity},
		{"string key", "alice@example.com", "alice@example.com", ""},
		{"trimmed", "  bob_1 ", "bob_1", ""},
		{"empty", "", "", CodeMissingField},
		{"whitespace only", "   ", "", CodeMissingField},
		{"illegal rune", "alice/bob", "", CodeInvalidIdentity},
		{"negative", "-5", "", CodeInvalidIdentity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseIdentity(tc.input)
			if tc.code != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if ve.Code != tc.code {
					t.Errorf("expected code %s, got %s", tc.code, ve.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestParseIdentity_TooLong(t *testing.T) {
	long := make([]byte, maxIdentityLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := ParseIdentity(string(long)); err == nil {
		t.Error("expected error for overlong identity")
	}
}

func TestIdentity_UnmarshalJSON(t *testing.T) {
	var req struct {
		Identity Identity `json:"identity"`
	}

	if err := json.Unmarshal([]byte(`{"identity": 17}`), &req); err != nil {
		t.Fatalf("number: unexpected error: %v", err)
	}
	if req.Identity != "17" {
		t.Errorf("expected 17, got %q", req.Identity)
	}

	if err := json.Unmarshal([]byte(`{"identity": "carol"}`), &req); err != nil {
		t.Fatalf("string: unexpected error: %v", err)
	}
	if req.Identity != "carol" {
		t.Errorf("expected carol, got %q", req.Identity)
	}

	for _, body := range []string{`{"identity": 1.5}`, `{"identity": -3}`, `{"identity": 0}`, `{"identity": true}`} {
		if err := json.Unmarshal([]byte(body), &req); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestReferencePhrase(t *testing.T) {
	samples := []Sample{
		{Sequence: 1, AuxContent: "open sesame"},
		{Sequence: 2},
		{Sequence: 3, AuxContent: "new phrase"},
		{Sequence: 4},
	}
	if got := ReferencePhrase(samples); got != "new phrase" {
		t.Errorf("expected latest phrase, got %q", got)
	}
	if got := ReferencePhrase(samples[1:2]); got != "" {
		t.Errorf("expected no phrase, got %q", got)
	}
}
