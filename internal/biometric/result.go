package biometric

// Reason explains a verification outcome. Callers branch on it instead of on
// errors.
type Reason string

const (
	ReasonVerified               Reason = "verified"
	ReasonNotEnrolled            Reason = "not_enrolled"
	ReasonInsufficientEnrollment Reason = "insufficient_enrollment"
	ReasonSignatureMismatch      Reason = "signature_mismatch"
	ReasonPhraseMismatch         Reason = "phrase_mismatch"
)

// Message returns a human readable diagnostic for the reason.
func (r Reason) Message(m Modality) string {
	switch r {
	case ReasonVerified:
		return "verified"
	case ReasonNotEnrolled:
		return "identity is not enrolled"
	case ReasonInsufficientEnrollment:
		return "identity has fewer samples than required"
	case ReasonSignatureMismatch:
		return string(m) + " mismatch"
	case ReasonPhraseMismatch:
		return "phrase mismatch"
	}
	return string(r)
}

// VerificationResult is the outcome of a single 1:1 decision. It is built
// fresh per call and never persisted.
type VerificationResult struct {
	Verified        bool      `json:"verified"`
	BestScore       float64   `json:"best_score"`
	PerSampleScores []float64 `json:"per_sample_scores,omitempty"`
	Reason          Reason    `json:"reason"`
	SampleCount     int       `json:"sample_count"`
}

// Confidence returns the best score as a percentage.
func (r VerificationResult) Confidence() float64 {
	return r.BestScore * 100
}

// PhraseMode records whether the phrase factor actually ran.
type PhraseMode string

const (
	PhraseChecked PhraseMode = "checked"
	// PhraseSkipped means no phrase was enrolled and the decision rests on
	// the signature alone.
	PhraseSkipped PhraseMode = "skipped_no_enrolled_phrase"
)

// DualFactorResult combines the signature decision with the phrase check.
type DualFactorResult struct {
	Verified           bool               `json:"verified"`
	CombinedConfidence float64            `json:"combined_confidence"`
	Reason             Reason             `json:"reason"`
	PhraseMode         PhraseMode         `json:"phrase_mode,omitempty"`
	PhraseMatch        bool               `json:"phrase_match"`
	PhraseSimilarity   float64            `json:"phrase_similarity"`
	Transcript         string             `json:"transcript,omitempty"`
	Signature          VerificationResult `json:"signature"`
}

// IdentificationResult is the outcome of a 1:N search. Identity is empty when
// nobody passed.
type IdentificationResult struct {
	Identified bool     `json:"identified"`
	Identity   Identity `json:"identity,omitempty"`
	// Confidence is the winning best score (single factor) or combined
	// confidence (dual factor), as a percentage.
	Confidence float64 `json:"confidence"`
	Candidates int     `json:"candidates"`
}
