package client

import (
	"time"

	"github.com/paate57/among-pale/internal/protocol"
)

// Point is a position on the map.
type Point struct {
	X, Y float64
}

type track struct {
	from, to Point
	start    time.Time
}

// Interpolator eases remote members toward their last reported position over one
// window. It is presentation only and not safe for concurrent use.
type Interpolator struct {
	window time.Duration
	tracks map[string]track
}

// NewInterpolator creates an Interpolator.
//
// Precondition: window must be positive.
func NewInterpolator(window time.Duration) *Interpolator {
	return &Interpolator{window: window, tracks: make(map[string]track)}
}

// Sync aligns tracked members with a membership snapshot. New members appear at
// their snapshot position; departed members are dropped; others keep moving.
func (ip *Interpolator) Sync(players []protocol.Player, now time.Time) {
	keep := make(map[string]bool, len(players))
	for _, p := range players {
		keep[p.ID] = true
		if _, ok := ip.tracks[p.ID]; !ok {
			at := Point{X: p.X, Y: p.Y}
			ip.tracks[p.ID] = track{from: at, to: at, start: now}
		}
	}
	for id := range ip.tracks {
		if !keep[id] {
			delete(ip.tracks, id)
		}
	}
}

// Target starts easing id from its current position toward to.
func (ip *Interpolator) Target(id string, to Point, now time.Time) {
	from, ok := ip.At(id, now)
	if !ok {
		from = to
	}
	ip.tracks[id] = track{from: from, to: to, start: now}
}

// At returns id's eased position at now.
func (ip *Interpolator) At(id string, now time.Time) (Point, bool) {
	tr, ok := ip.tracks[id]
	if !ok {
		return Point{}, false
	}
	return tr.at(now, ip.window), true
}

// All returns every tracked member's eased position at now.
func (ip *Interpolator) All(now time.Time) map[string]Point {
	out := make(map[string]Point, len(ip.tracks))
	for id, tr := range ip.tracks {
		out[id] = tr.at(now, ip.window)
	}
	return out
}

// Reset drops every track.
func (ip *Interpolator) Reset() {
	clear(ip.tracks)
}

func (tr track) at(now time.Time, window time.Duration) Point {
	elapsed := now.Sub(tr.start)
	if elapsed >= window {
		return tr.to
	}
	if elapsed <= 0 {
		return tr.from
	}
	f := float64(elapsed) / float64(window)
	return Point{
		X: tr.from.X + (tr.to.X-tr.from.X)*f,
		Y: tr.from.Y + (tr.to.Y-tr.from.Y)*f,
	}
}
