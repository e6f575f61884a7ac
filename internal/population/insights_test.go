package population

import (
	"sync"
	"testing"
	"time"
)

func TestInsightLogKeepsLastN(t *testing.T) {
	l := NewInsightLog(100)
	for i := 0; i < 150; i++ {
		l.Append(Insight{Message: "fail"})
	}

	if got := l.Len(); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}
	snap := l.Snapshot()
	if snap[0].Seq != 51 || snap[99].Seq != 150 {
		t.Fatalf("window = [%d..%d], want [51..150]", snap[0].Seq, snap[99].Seq)
	}
	if l.CurrentSeq() != 150 {
		t.Fatalf("CurrentSeq = %d", l.CurrentSeq())
	}
}

func TestInsightLogSince(t *testing.T) {
	l := NewInsightLog(10)
	for i := 0; i < 5; i++ {
		l.Append(Insight{})
	}
	got := l.Since(3)
	if len(got) != 2 || got[0].Seq != 4 {
		t.Fatalf("Since(3) = %+v", got)
	}
}

func TestInsightLogTimestamp(t *testing.T) {
	l := NewInsightLog(1)
	in := l.Append(Insight{})
	if in.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in = l.Append(Insight{Timestamp: fixed})
	if !in.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp overwritten: %v", in.Timestamp)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestInsightLogSubscribe(t *testing.T) {
	l := NewInsightLog(10)
	ch := l.Subscribe(2)

	l.Append(Insight{Task: "t1"})
	select {
	case in := <-ch:
		if in.Task != "t1" {
			t.Fatalf("task = %q", in.Task)
		}
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}

	// Full subscriber does not block appends.
	for i := 0; i < 5; i++ {
		l.Append(Insight{})
	}

	l.Unsubscribe(ch)
	for range ch {
	}
}

func TestInsightLogClose(t *testing.T) {
	l := NewInsightLog(10)
	ch := l.Subscribe(1)
	l.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestInsightLogAppendDuringUnsubscribe(t *testing.T) {
	l := NewInsightLog(16)
	for i := 0; i < 16; i++ {
		l.Append(Insight{Message: "fail"})
	}
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					l.Append(Insight{Message: "fail"})
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		ch := l.Subscribe(1024)
		l.Unsubscribe(ch)
	}
	l.Subscribe(1)
	l.Close()
	close(stop)
	wg.Wait()

	if l.Len() != 16 {
		t.Fatalf("Len = %d, want 16", l.Len())
	}
}
