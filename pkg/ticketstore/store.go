// Package ticketstore defines the session record persisted for a CAS
// sign-in and the store contract used for single-logout correlation.
// Backing implementations live in the memory and sqlite subpackages.
package ticketstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned when a store operation is called with an empty
// key. Caller bug, never retried.
var ErrEmptyKey = errors.New("ticketstore: key must not be empty")

// Record is the persisted unit of a login session.
type Record struct {
	// TicketID is the CAS service ticket when available; it doubles as
	// the store key so a single-logout notification can locate the
	// session by its SAML SessionIndex.
	TicketID string `json:"ticket_id"`

	// Subject is the authenticated principal name.
	Subject string `json:"subject"`

	// AuthType labels the authentication scheme, e.g. "CAS".
	AuthType string `json:"auth_type"`

	// Attributes carries the identity's claims as a multi-valued map.
	Attributes map[string][]string `json:"attributes,omitempty"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeriveKey returns the store key for a record: its ticket id when set,
// otherwise a freshly generated unique id. Taking the whole record keeps
// key derivation independent of any call ordering.
func DeriveKey(rec Record) string {
	if rec.TicketID != "" {
		return rec.TicketID
	}
	return uuid.NewString()
}

// TTL returns how long the record should live from now, falling back to
// fallback when the record carries no expiration or is already expired.
func (r Record) TTL(now time.Time, fallback time.Duration) time.Duration {
	if r.ExpiresAt.IsZero() {
		return fallback
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return fallback
}

// Store persists session records keyed by an opaque id. Implementations
// must tolerate concurrent calls on different keys; same-key races are
// last write wins.
type Store interface {
	// Store persists rec under its derived key and returns that key.
	Store(ctx context.Context, rec Record) (string, error)

	// Retrieve returns the record at key. Absence (unknown or expired
	// key) is reported via found=false, not an error.
	Retrieve(ctx context.Context, key string) (Record, bool, error)

	// Renew replaces the record at key and refreshes its expiration.
	Renew(ctx context.Context, key string, rec Record) error

	// Remove deletes the record at key. Removing an absent key is not
	// an error.
	Remove(ctx context.Context, key string) error
}
