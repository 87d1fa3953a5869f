package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint hashes the inputs that produce a graph. Identical inputs yield
// identical fingerprints, which is how the cache engine detects staleness.
// Inputs are serialized with encoding/json, whose map-key ordering is stable.
func Fingerprint(inputs ...interface{}) string {
	h := sha256.New()
	for _, input := range inputs {
		payload, err := json.Marshal(input)
		if err != nil {
			// Non-serializable inputs still contribute deterministically
			payload = []byte(fmt.Sprintf("%#v", input))
		}
		h.Write(payload)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
