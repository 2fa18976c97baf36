package ringbuffer

import "testing"

func TestCircularBufferDropsOldest(t *testing.T) {
	t.Parallel()

	buf := NewCircularBuffer[int](3)
	buf.Push(1)
	buf.Push(2)
	buf.Push(3)
	buf.Push(4)

	got := buf.ToSlice()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestCircularBufferClear(t *testing.T) {
	t.Parallel()

	buf := NewCircularBuffer[int](3)
	buf.Push(1)
	buf.Clear()
	if buf.Count() != 0 {
		t.Errorf("Count() = %d, want 0", buf.Count())
	}
}

type tsItem struct {
	ts  int64
	val int
}

func (t tsItem) TimestampMs() int64 { return t.ts }

func TestRollingWindowEvictsByTime(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow[tsItem](100, 30_000) // 30s window

	w.Push(tsItem{ts: 0, val: 1})
	w.Push(tsItem{ts: 10_000, val: 2})
	w.Push(tsItem{ts: 60_000, val: 3}) // should evict the first two

	got := w.ToSlice()
	if len(got) != 1 || got[0].val != 3 {
		t.Errorf("got %v, want [{60000 3}]", got)
	}
}

func TestRollingWindowRespectsCapacity(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow[tsItem](2, 1_000_000)
	w.Push(tsItem{ts: 0, val: 1})
	w.Push(tsItem{ts: 1, val: 2})
	w.Push(tsItem{ts: 2, val: 3})

	got := w.ToSlice()
	if len(got) != 2 || got[0].val != 2 || got[1].val != 3 {
		t.Errorf("got %v, want [{1 2} {2 3}]", got)
	}
}

func TestRollingWindowNoIntermediateInterleaving(t *testing.T) {
	t.Parallel()

	// S1 scenario shape: repeated trades at widely spaced times must not
	// accumulate once they age out of the window.
	w := NewRollingWindow[tsItem](1000, 30_000)
	for i := int64(0); i < 10; i++ {
		w.Push(tsItem{ts: i * 60_000, val: 50})
	}
	if got := w.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 (volumes must not be cumulative)", got)
	}
}
