package strategy

import (
	"testing"
	"time"
)

func TestWindowChangePct(t *testing.T) {
	w := newPriceWindow(time.Minute)

	if _, ok := w.ChangePct("m"); ok {
		t.Fatal("single observation reported a change")
	}
	w.Observe("m", 2)
	if _, ok := w.ChangePct("m"); ok {
		t.Fatal("single observation reported a change")
	}

	w.Observe("m", 3)
	got, ok := w.ChangePct("m")
	if !ok || got != 50 {
		t.Fatalf("ChangePct = %v/%v, want 50", got, ok)
	}

	w.Observe("m", 1)
	got, _ = w.ChangePct("m")
	if got != -50 {
		t.Fatalf("ChangePct = %v, want -50", got)
	}
}

func TestWindowHigh(t *testing.T) {
	w := newPriceWindow(time.Minute)
	if _, ok := w.High("m"); ok {
		t.Fatal("empty window reported a high")
	}
	for _, p := range []float64{1, 7, 3} {
		w.Observe("m", p)
	}
	if high, ok := w.High("m"); !ok || high != 7 {
		t.Fatalf("High = %v/%v", high, ok)
	}
}

func TestWindowTrending(t *testing.T) {
	w := newPriceWindow(time.Minute)
	w.Observe("m", 1)
	w.Observe("m", 1.1)
	if w.Trending("m") {
		t.Fatal("two points reported trending")
	}

	w.Observe("m", 1.2)
	if !w.Trending("m") {
		t.Fatal("rising series not trending")
	}

	// A small wobble inside the tolerance still trends.
	w.Observe("m", 1.198)
	if !w.Trending("m") {
		t.Fatal("in-tolerance wobble broke the trend")
	}

	w.Observe("m", 1.0)
	if w.Trending("m") {
		t.Fatal("drawdown still reported trending")
	}
}

func TestWindowPrunesOldPoints(t *testing.T) {
	w := newPriceWindow(30 * time.Millisecond)
	w.Observe("m", 1)
	w.Observe("m", 2)
	time.Sleep(50 * time.Millisecond)

	// The stale points fall off on the next observation.
	w.Observe("m", 3)
	if _, ok := w.ChangePct("m"); ok {
		t.Fatal("pruned window still reported a change")
	}
	if len(w.obs["m"]) != 1 {
		t.Fatalf("window holds %d points, want 1", len(w.obs["m"]))
	}
}
