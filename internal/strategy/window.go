package strategy

import "time"

type pricePoint struct {
	at    time.Time
	price float64
}

// priceWindow keeps a short rolling price history per mint so the watcher
// strategies can compute window-relative moves. Single-bot local, no locking.
type priceWindow struct {
	span time.Duration
	obs  map[string][]pricePoint
}

func newPriceWindow(span time.Duration) *priceWindow {
	if span <= 0 {
		span = 5 * time.Minute
	}
	return &priceWindow{span: span, obs: make(map[string][]pricePoint)}
}

// Observe records a price and drops points older than the window.
func (w *priceWindow) Observe(mint string, price float64) {
	now := time.Now()
	pts := append(w.obs[mint], pricePoint{at: now, price: price})
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(pts) && pts[i].at.Before(cutoff) {
		i++
	}
	w.obs[mint] = pts[i:]
}

// ChangePct returns the percent move from the oldest point in the window to
// the newest. ok is false until at least two observations exist.
func (w *priceWindow) ChangePct(mint string) (float64, bool) {
	pts := w.obs[mint]
	if len(pts) < 2 {
		return 0, false
	}
	first, last := pts[0].price, pts[len(pts)-1].price
	if first <= 0 {
		return 0, false
	}
	return (last - first) / first * 100, true
}

// High returns the highest price seen in the window.
func (w *priceWindow) High(mint string) (float64, bool) {
	pts := w.obs[mint]
	if len(pts) == 0 {
		return 0, false
	}
	high := pts[0].price
	for _, p := range pts[1:] {
		if p.price > high {
			high = p.price
		}
	}
	return high, true
}

// Trending reports whether the window is monotonically rising within a small
// tolerance, used by the trend follower to avoid single-spike entries.
func (w *priceWindow) Trending(mint string) bool {
	pts := w.obs[mint]
	if len(pts) < 3 {
		return false
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].price < pts[i-1].price*0.995 {
			return false
		}
	}
	return true
}
