package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

const defaultOpaqueTokenBytes = 32

// NewOpaqueToken returns nBytes of crypto/rand output as unpadded base64url.
// nBytes <= 0 means 32.
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultOpaqueTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SecureStringEqual compares in constant time. Empty values never match.
func SecureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
