package usecase

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EventSignature computes the HMAC-SHA256 hex digest a reader must present
// for an event: the keyed hash of tagHash || readerID || timestamp || nonce
// with the reader's current secret. The timestamp is its decimal unix-seconds
// form.
func EventSignature(secret, tagHash, readerID string, timestamp int64, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s%s%d%s", tagHash, readerID, timestamp, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// ChallengeSignature is the digest expected for a SIGNATURE_VERIFY probation
// challenge: HMAC-SHA256 of readerID || nonce with the current secret.
func ChallengeSignature(secret, readerID, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(readerID + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// signaturesEqual compares two hex digests in constant time.
func signaturesEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// newSecret returns a fresh random reader secret, hex encoded.
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// newNonce returns a random challenge nonce, hex encoded.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
