package domain

import "time"

type ReaderStatus string

const (
	ReaderStatusActive  ReaderStatus = "ACTIVE"
	ReaderStatusRevoked ReaderStatus = "REVOKED"
)

// Reader is a field device credential. The secret is an HMAC shared secret;
// KeyVersion advances on every rotation so stale clients can be told apart
// from forgeries.
type Reader struct {
	ID         string
	Secret     string
	KeyVersion int
	Status     ReaderStatus
	CreatedAt  time.Time
}
