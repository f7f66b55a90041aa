package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/andresuchdata/control-tower/internal/domain"
)

// Fingerprint hashes the serialized recommendation list. Identical inputs and
// as-of produce identical fingerprints.
func Fingerprint(recs []domain.Recommendation) (string, error) {
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	body, err := json.Marshal(recs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
