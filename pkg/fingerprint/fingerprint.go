// Package fingerprint hashes device fingerprints and scores the drift
// between a stored hash and a presented one.
//
// The similarity score is a positional character-agreement ratio over
// hex digests. It exists only to detect gradual fingerprint drift from
// browser and OS updates; it is not a cryptographic distance and must
// never be used as an authentication check on its own.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Classification labels for a stored-vs-presented comparison
type Match string

const (
	MatchExact    Match = "FINGERPRINT_MATCH"
	MatchMinor    Match = "MINOR_DRIFT"
	MatchMajor    Match = "MAJOR_DRIFT"
	MatchMismatch Match = "FINGERPRINT_MISMATCH"
)

// Actions a classification maps to
type Action string

const (
	ActionAllow        Action = "ALLOW"
	ActionAllowWithLog Action = "ALLOW_WITH_LOG"
	ActionRequireMFA   Action = "REQUIRE_MFA"
	ActionBlock        Action = "BLOCK"
)

// Similarity thresholds for the drift decision table
const (
	minorDriftThreshold = 0.8
	majorDriftThreshold = 0.6
)

// Classification is the outcome of comparing two fingerprint hashes
type Classification struct {
	Match      Match
	Action     Action
	Similarity float64
	Allowed    bool
	RequireMFA bool
}

// Hasher produces peppered one-way hashes of raw fingerprint strings
type Hasher struct {
	pepper []byte
}

// NewHasher creates a Hasher with the given pepper. The pepper comes
// from process-wide configuration, never from user input.
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Hash returns the hex HMAC-SHA256 of the raw fingerprint keyed by the
// pepper. Deterministic for identical input and pepper.
func (h *Hasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Similarity returns the character-position agreement ratio over the
// shorter of the two hashes, in [0,1]. Returns 0 if either is empty.
//
// Known weakness: equal-length prefix comparison is fragile to
// insertion/deletion drift. Kept for behavioral parity with the
// deployed decision thresholds; a Hamming or Levenshtein based score
// would change every calibrated threshold.
func Similarity(hashA, hashB string) float64 {
	if hashA == "" || hashB == "" {
		return 0
	}

	length := len(hashA)
	if len(hashB) < length {
		length = len(hashB)
	}

	matches := 0
	for i := 0; i < length; i++ {
		if hashA[i] == hashB[i] {
			matches++
		}
	}
	return float64(matches) / float64(length)
}

// Classify applies the drift decision table to a stored hash and the
// hash presented at access time:
//
//	exact match      -> ALLOW
//	similarity > 0.8 -> minor drift, ALLOW_WITH_LOG
//	0.6 - 0.8        -> major drift, REQUIRE_MFA
//	< 0.6            -> mismatch, BLOCK
func Classify(stored, presented string) Classification {
	if stored == presented {
		return Classification{
			Match:      MatchExact,
			Action:     ActionAllow,
			Similarity: 1.0,
			Allowed:    true,
		}
	}

	similarity := Similarity(stored, presented)
	switch {
	case similarity > minorDriftThreshold:
		return Classification{
			Match:      MatchMinor,
			Action:     ActionAllowWithLog,
			Similarity: similarity,
			Allowed:    true,
		}
	case similarity > majorDriftThreshold:
		return Classification{
			Match:      MatchMajor,
			Action:     ActionRequireMFA,
			Similarity: similarity,
			RequireMFA: true,
		}
	default:
		return Classification{
			Match:      MatchMismatch,
			Action:     ActionBlock,
			Similarity: similarity,
		}
	}
}
