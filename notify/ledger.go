package notify

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Ledger remembers which slot set each subscriber was last notified about
// per category and location.
type Ledger interface {
	// Seen reports whether userID was already sent fingerprint for the pair.
	Seen(ctx context.Context, categoryKey, location, userID, fingerprint string) (bool, error)
	Remember(ctx context.Context, categoryKey, location, userID, fingerprint string) error
	// Reset forgets the pair, so the next slots for it notify again.
	Reset(ctx context.Context, categoryKey, location string) error
}

// DefaultLedgerSize bounds the in-memory ledger. The least recently
// remembered entries are evicted first.
const DefaultLedgerSize = 50_000

type ledgerKey struct {
	category string
	location string
	userID   string
}

// MemoryLedger is a process-local Ledger. Entries expire after ttl.
type MemoryLedger struct {
	cache *expirable.LRU[ledgerKey, string]
}

// NewMemoryLedger creates an in-memory ledger holding at most size entries.
// A non-positive size uses DefaultLedgerSize.
func NewMemoryLedger(size int, ttl time.Duration) *MemoryLedger {
	if size <= 0 {
		size = DefaultLedgerSize
	}
	return &MemoryLedger{cache: expirable.NewLRU[ledgerKey, string](size, nil, ttl)}
}

func (l *MemoryLedger) Seen(_ context.Context, categoryKey, location, userID, fingerprint string) (bool, error) {
	got, ok := l.cache.Get(ledgerKey{categoryKey, location, userID})
	return ok && got == fingerprint, nil
}

func (l *MemoryLedger) Remember(_ context.Context, categoryKey, location, userID, fingerprint string) error {
	l.cache.Add(ledgerKey{categoryKey, location, userID}, fingerprint)
	return nil
}

func (l *MemoryLedger) Reset(_ context.Context, categoryKey, location string) error {
	for _, k := range l.cache.Keys() {
		if k.category == categoryKey && k.location == location {
			l.cache.Remove(k)
		}
	}
	return nil
}

// Len is the number of live entries.
func (l *MemoryLedger) Len() int {
	return l.cache.Len()
}
