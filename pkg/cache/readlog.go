package cache

import (
	"sync"
	"time"
)

// ReadRecord notes which tier satisfied a read, for the diagnostics
// endpoint ("which tier served the last N reads").
type ReadRecord struct {
	Key  string    `json:"key"`
	Tier Tier      `json:"tier"`
	At   time.Time `json:"at"`
}

// readLog is a fixed-size ring buffer of recent read records.
type readLog struct {
	mu   sync.Mutex
	buf  []ReadRecord
	next int
	full bool
}

func newReadLog(size int) *readLog {
	return &readLog{buf: make([]ReadRecord, size)}
}

func (l *readLog) record(key string, tier Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = ReadRecord{Key: key, Tier: tier, At: time.Now()}
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
}

// recent returns the recorded reads, newest first.
func (l *readLog) recent() []ReadRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = len(l.buf)
	}

	records := make([]ReadRecord, 0, count)
	for i := 1; i <= count; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		records = append(records, l.buf[idx])
	}
	return records
}
