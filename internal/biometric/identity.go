package biometric

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	maxNumericIdentity = 2147483647
	maxIdentityLength  = 128
)

// Identity is the opaque key an enrollment belongs to. Numeric keys are kept
// in their canonical decimal form.
type Identity string

func (id Identity) String() string {
	return string(id)
}

// ParseIdentity validates a raw identity key.
// Purely numeric keys must be positive 32-bit integers, anything else is
// limited to letters, digits and "-_.@".
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ValidationError{Field: "identity", Code: CodeMissingField, Message: "identity is required"}
	}

	if isDigits(s) || (s[0] == '-' && isDigits(s[1:])) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || n > maxNumericIdentity {
			return "", &ValidationError{
				Field:   "identity",
				Code:    CodeInvalidIdentity,
				Message: "numeric identity must be a positive integer not exceeding 2147483647",
			}
		}
		return Identity(strconv.FormatInt(n, 10)), nil
	}

	if len(s) > maxIdentityLength {
		return "", &ValidationError{Field: "identity", Code: CodeInvalidIdentity, Message: "identity is too long"}
	}
	for _, r := range s {
		if !isIdentityRune(r) {
			return "", &ValidationError{
				Field:   "identity",
				Code:    CodeInvalidIdentity,
				Message: "identity may only contain letters, digits and -_.@",
			}
		}
	}
	return Identity(s), nil
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *Identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return &ValidationError{Field: "identity", Code: CodeInvalidIdentity, Message: "identity must be a string or a number"}
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return &ValidationError{Field: "identity", Code: CodeInvalidIdentity, Message: "identity must be a string or a number"}
		}
		raw = n.String()
		if !isDigits(raw) {
			return &ValidationError{Field: "identity", Code: CodeInvalidIdentity, Message: "numeric identity must be a positive integer"}
		}
	}

	if raw == "" {
		*id = ""
		return nil
	}
	parsed, err := ParseIdentity(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isIdentityRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == '@':
		return true
	}
	return false
}
