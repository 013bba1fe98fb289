package llm

import (
	"log"
	"sync"
	"time"
)

// UsageStore persists the daily usage ledger across processes.
type UsageStore interface {
	LoadUsage() (map[string]int, error)
	SaveUsage(map[string]int) error
}

// DayKey formats a calendar day as the ledger key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Ledger tracks dispatched generation requests per calendar day. Day keys
// accumulate and are never cleared. A nil store keeps counts in memory only.
type Ledger struct {
	mu     sync.Mutex
	counts map[string]int
	store  UsageStore
}

func NewLedger(store UsageStore) *Ledger {
	counts := make(map[string]int)
	if store != nil {
		loaded, err := store.LoadUsage()
		if err != nil {
			log.Printf("usage ledger: load failed, starting empty: %v", err)
		} else if loaded != nil {
			counts = loaded
		}
	}
	return &Ledger{counts: counts, store: store}
}

// Increment records one dispatched request for the given day and returns the
// new count. Persistence is best-effort.
func (l *Ledger) Increment(day string) int {
	l.mu.Lock()
	l.counts[day]++
	n := l.counts[day]
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveUsage(snapshot); err != nil {
			log.Printf("usage ledger: save failed: %v", err)
		}
	}
	return n
}

// Count returns the recorded requests for the given day.
func (l *Ledger) Count(day string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[day]
}

func (l *Ledger) snapshotLocked() map[string]int {
	cp := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		cp[k] = v
	}
	return cp
}
