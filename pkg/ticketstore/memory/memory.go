// Package memory provides an in-process ticket store with per-entry TTL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sso-tools/cascade/pkg/ticketstore"
)

const defaultRecordTTL = 8 * time.Hour

// for tests
var nowFunc = time.Now

type entry struct {
	rec     ticketstore.Record
	expires time.Time
}

// Adapter is a mutex-guarded map store. Expired entries are reaped lazily
// on read.
type Adapter struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
}

var _ ticketstore.Store = (*Adapter)(nil)

// NewAdapter creates an empty in-memory store. defaultTTL applies to
// records without their own expiration; zero selects 8 hours.
func NewAdapter(defaultTTL time.Duration) *Adapter {
	if defaultTTL <= 0 {
		defaultTTL = defaultRecordTTL
	}
	return &Adapter{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

func (a *Adapter) Store(ctx context.Context, rec ticketstore.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ticketstore.DeriveKey(rec)
	now := nowFunc()

	a.mu.Lock()
	a.entries[key] = entry{rec: rec, expires: now.Add(rec.TTL(now, a.defaultTTL))}
	a.mu.Unlock()
	return key, nil
}

func (a *Adapter) Retrieve(ctx context.Context, key string) (ticketstore.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return ticketstore.Record{}, false, err
	}
	if key == "" {
		return ticketstore.Record{}, false, ticketstore.ErrEmptyKey
	}

	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return ticketstore.Record{}, false, nil
	}

	if nowFunc().After(e.expires) {
		a.mu.Lock()
		delete(a.entries, key)
		a.mu.Unlock()
		return ticketstore.Record{}, false, nil
	}
	return e.rec, true, nil
}

func (a *Adapter) Renew(ctx context.Context, key string, rec ticketstore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ticketstore.ErrEmptyKey
	}
	now := nowFunc()

	a.mu.Lock()
	a.entries[key] = entry{rec: rec, expires: now.Add(rec.TTL(now, a.defaultTTL))}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ticketstore.ErrEmptyKey
	}

	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}
