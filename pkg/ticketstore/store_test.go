package ticketstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKeyUsesTicketID(t *testing.T) {
	key := DeriveKey(Record{TicketID: "ST-1", Subject: "alice"})
	assert.Equal(t, "ST-1", key)
}

func TestDeriveKeyGeneratesWhenAbsent(t *testing.T) {
	a := DeriveKey(Record{Subject: "alice"})
	b := DeriveKey(Record{Subject: "alice"})
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestRecordTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fallback := time.Hour

	assert.Equal(t, fallback, Record{}.TTL(now, fallback))
	assert.Equal(t, 30*time.Minute, Record{ExpiresAt: now.Add(30 * time.Minute)}.TTL(now, fallback))
	// Already expired records fall back rather than going negative.
	assert.Equal(t, fallback, Record{ExpiresAt: now.Add(-time.Minute)}.TTL(now, fallback))
}
