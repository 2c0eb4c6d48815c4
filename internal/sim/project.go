package sim

import (
	"fmt"
	"math"
	"time"

	"railnet/internal/geo"
	"railnet/internal/train"
)

// Waypoint is a purchased station used as a routing point.
type Waypoint struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LocName string `json:"loc_name,omitempty"`
	geo.Point
}

// Reason qualifies a Progress result so callers can tell "just dispatched"
// apart from "can never move" without inspecting zero values.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonEmptyRoute
	ReasonNoLocomotive
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonEmptyRoute:
		return "empty_route"
	case ReasonNoLocomotive:
		return "no_locomotive"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Progress is the projected state of a dispatched train at one instant.
type Progress struct {
	PercentCompletion float64   `json:"percent_completion"`
	ETA               string    `json:"eta"`
	Current           geo.Point `json:"train_coordinates"`
	Next              geo.Point `json:"next_train_coordinates"`
}

// Look-ahead horizon for the heading/animation coordinate.
const lookAheadHours = 5.0 / 60.0

// Project computes percent-complete, remaining-time ETA and the current and
// 5-minute look-ahead coordinates of a train from elapsed wall-clock time.
// It is a pure function: it holds no state between calls and performs no I/O,
// so the same inputs always produce the same output.
//
// A clock reading before startedAt counts as zero elapsed time, pinning the
// train at the departure station.
func Project(waypoints []Waypoint, profile train.Profile, startedAt, now time.Time) (Progress, Reason) {
	if len(waypoints) < 2 {
		return anchored(waypoints), ReasonEmptyRoute
	}

	pts := points(waypoints)
	total := geo.RouteDistance(pts)
	speed := profile.EffectiveSpeed
	if speed <= 0 {
		return anchored(waypoints), ReasonNoLocomotive
	}
	if total <= 0 {
		return anchored(waypoints), ReasonEmptyRoute
	}

	elapsed := now.Sub(startedAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	traveled := elapsed * speed

	percent := traveled / total * 100
	if percent > 100 {
		percent = 100
	}

	journeyHours := total / speed
	remaining := journeyHours - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return Progress{
		PercentCompletion: round2(percent),
		ETA:               FormatHours(remaining),
		Current:           geo.PointAtDistance(pts, traveled),
		Next:              geo.PointAtDistance(pts, traveled+speed*lookAheadHours),
	}, ReasonOK
}

// anchored is the degenerate result: zero progress pinned at the first
// known waypoint, or the origin when none exists.
func anchored(waypoints []Waypoint) Progress {
	var at geo.Point
	if len(waypoints) > 0 {
		at = waypoints[0].Point
	}
	return Progress{
		PercentCompletion: 0,
		ETA:               FormatHours(0),
		Current:           at,
		Next:              at,
	}
}

// FormatHours renders a non-negative duration in fractional hours as
// "Hh Mm Ss".
func FormatHours(hours float64) string {
	h := math.Floor(hours)
	m := math.Floor((hours - h) * 60)
	s := math.Floor(((hours-h)*60 - m) * 60)
	return fmt.Sprintf("%dh %dm %ds", int(h), int(m), int(s))
}

func points(waypoints []Waypoint) []geo.Point {
	pts := make([]geo.Point, len(waypoints))
	for i, w := range waypoints {
		pts[i] = w.Point
	}
	return pts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
