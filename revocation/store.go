package revocation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound means no live record exists for the jti: it was revoked,
	// rotated, or expired.
	ErrNotFound = errors.New("refresh record not found")
	// ErrUnavailable wraps every backend failure, timeouts included.
	ErrUnavailable = errors.New("revocation store unavailable")
	// ErrCorrupt is returned for stored values that do not decode.
	ErrCorrupt = errors.New("refresh record corrupt")
)

// Record is the persisted state of one refresh issuance.
type Record struct {
	Subject   string
	ExpiresAt time.Time
}

// Store is the contract the session manager needs from the shared store.
type Store interface {
	// Put stores rec under jti with the given TTL and indexes it by subject.
	Put(ctx context.Context, jti string, rec Record, ttl time.Duration) error
	// Take atomically reads and deletes the record. Exactly one concurrent
	// caller receives it; the rest get ErrNotFound.
	Take(ctx context.Context, jti string) (Record, error)
	// Delete removes the record. Missing records are not an error.
	Delete(ctx context.Context, jti string) error
	// RevokeSubject deletes every indexed record for subject and returns how
	// many were still live.
	RevokeSubject(ctx context.Context, subject string) (int, error)
}

// Stored form is "<exp unix ms>:<subject>"; the Lua scripts split on the first
// colon to find the subject index.
func encodeRecord(rec Record) string {
	return strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10) + ":" + rec.Subject
}

func decodeRecord(data string) (Record, error) {
	expPart, subject, ok := strings.Cut(data, ":")
	if !ok || subject == "" {
		return Record{}, ErrCorrupt
	}
	expMS, err := strconv.ParseInt(expPart, 10, 64)
	if err != nil {
		return Record{}, ErrCorrupt
	}
	return Record{Subject: subject, ExpiresAt: time.UnixMilli(expMS)}, nil
}
