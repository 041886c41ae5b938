package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestThrottle_AdmitsOncePerInterval(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)
	t0 := time.Unix(1000, 0)

	assert.True(t, th.Allow(t0))
	assert.False(t, th.Allow(t0.Add(10*time.Millisecond)))
	assert.Equal(t, 20*time.Millisecond, th.Wait(t0.Add(30*time.Millisecond)))
	assert.False(t, th.Allow(t0.Add(49*time.Millisecond)))
	assert.True(t, th.Allow(t0.Add(50*time.Millisecond)))
	assert.Equal(t, time.Duration(0), th.Wait(t0.Add(time.Second)))
}

func TestThrottle_Reset(t *testing.T) {
	th := NewThrottle(time.Second)
	t0 := time.Unix(1000, 0)

	assert.Equal(t, time.Duration(0), th.Wait(t0))
	assert.True(t, th.Allow(t0))
	th.Reset()
	assert.True(t, th.Allow(t0.Add(time.Millisecond)))
}

// In any half-open window of length w the throttle admits at most ceil(w/interval) events.
func TestProperty_ThrottleWindowBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		interval := time.Duration(rapid.IntRange(1, 100).Draw(rt, "interval_ms")) * time.Millisecond
		gaps := rapid.SliceOfN(rapid.IntRange(0, 150), 1, 200).Draw(rt, "gaps_ms")

		th := NewThrottle(interval)
		now := time.Unix(0, 0)
		var admitted []time.Time
		for _, g := range gaps {
			now = now.Add(time.Duration(g) * time.Millisecond)
			if th.Allow(now) {
				admitted = append(admitted, now)
			}
		}

		for i := 1; i < len(admitted); i++ {
			if d := admitted[i].Sub(admitted[i-1]); d < interval {
				rt.Fatalf("events %d and %d only %s apart", i-1, i, d)
			}
		}

		w := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "window_ms")) * time.Millisecond
		limit := int((w + interval - 1) / interval)
		for i := range admitted {
			n := 0
			for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < w; j++ {
				n++
			}
			if n > limit {
				rt.Fatalf("%d events in a %s window, limit %d", n, w, limit)
			}
		}
	})
}
