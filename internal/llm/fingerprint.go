package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnencodableRequest = errors.New("request cannot be encoded")

// Fingerprint identifies a ChatRequest by content. It is the lowercase hex
// SHA-256 of the request's canonical JSON encoding.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a prefix suitable for log lines.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Valid reports whether f has the shape of a fingerprint.
func (f Fingerprint) Valid() bool {
	if len(f) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// FingerprintOf hashes the canonical encoding of req. Requests that encode
// identically share a fingerprint; any change to model, instructions,
// message order or content, tools or options produces a different one.
// A request that cannot be encoded, such as one with a NaN temperature or
// a tool schema that is not JSON, has no fingerprint.
func FingerprintOf(req ChatRequest) (Fingerprint, error) {
	data, err := json.Marshal(req.document())
	if err != nil {
		return "", &CacheError{Op: "fingerprint", Err: fmt.Errorf("%w: %v", ErrUnencodableRequest, err)}
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
