package population

import (
	"sync"
	"sync/atomic"
	"time"
)

// InsightLog is a sequenced ring of failure records with fan-out to live
// subscribers. When full, the oldest record is evicted.
type InsightLog struct {
	mu       sync.RWMutex
	records  []Insight
	seq      atomic.Uint64
	capacity int

	subs []chan Insight
}

// NewInsightLog creates a ring holding at most capacity records.
func NewInsightLog(capacity int) *InsightLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &InsightLog{
		records:  make([]Insight, 0, capacity),
		capacity: capacity,
	}
}

// Append assigns a sequence number (and a timestamp if missing), stores the
// record and fans it out to subscribers without blocking.
func (l *InsightLog) Append(in Insight) Insight {
	in.Seq = l.seq.Add(1)
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	l.mu.Lock()
	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records[len(l.records)-1] = in
	} else {
		l.records = append(l.records, in)
	}
	// Sends stay under the lock so Unsubscribe and Close cannot close a
	// channel mid-send.
	for _, ch := range l.subs {
		select {
		case ch <- in:
		default:
			// Slow consumer, drop.
		}
	}
	l.mu.Unlock()
	return in
}

// Len returns the number of buffered records.
func (l *InsightLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Snapshot returns a copy of the buffered records, oldest first.
func (l *InsightLog) Snapshot() []Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Insight, len(l.records))
	copy(out, l.records)
	return out
}

// Since returns buffered records with Seq > sinceSeq.
func (l *InsightLog) Since(sinceSeq uint64) []Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Insight
	for _, in := range l.records {
		if in.Seq > sinceSeq {
			out = append(out, in)
		}
	}
	return out
}

// CurrentSeq returns the latest sequence number.
func (l *InsightLog) CurrentSeq() uint64 {
	return l.seq.Load()
}

// Subscribe registers a channel for live records.
func (l *InsightLog) Subscribe(bufSize int) chan Insight {
	if bufSize <= 0 {
		bufSize = 32
	}
	ch := make(chan Insight, bufSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, ch)
	return ch
}

// Unsubscribe removes a channel from the subscriber list and closes it.
func (l *InsightLog) Unsubscribe(ch chan Insight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, s := range l.subs {
		if s == ch {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close closes every subscriber channel.
func (l *InsightLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.subs {
		close(ch)
	}
	l.subs = nil
}
