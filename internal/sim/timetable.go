package sim

import (
	"math"
	"time"

	"railnet/internal/geo"
	"railnet/internal/train"
)

// TimetableEntry is one stop of a dispatched route with its estimated
// arrival, derived from the same distance and speed figures as Project.
type TimetableEntry struct {
	Waypoint         Waypoint  `json:"station"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
	DistanceKm       float64   `json:"distance"`
	Next             bool      `json:"isNext"`
	Passed           bool      `json:"isPassed"`
}

// Timetable produces per-station estimated arrivals for a dispatched route.
// percentCompletion must come from Project on the same inputs so the
// passed/next flags agree with the drawn train position. With a consist
// that cannot move, every arrival collapses to startedAt.
func Timetable(waypoints []Waypoint, profile train.Profile, startedAt time.Time, percentCompletion float64) []TimetableEntry {
	n := len(waypoints)
	if n == 0 {
		return nil
	}

	pts := points(waypoints)
	segIdx := SegmentIndex(n, percentCompletion)
	nextIdx := segIdx + 1
	if nextIdx > n-1 {
		nextIdx = n - 1
	}

	entries := make([]TimetableEntry, 0, n)
	for i, w := range waypoints {
		cum := geo.RouteDistance(pts[:i+1])
		arrival := startedAt
		if profile.EffectiveSpeed > 0 {
			hours := cum / profile.EffectiveSpeed
			arrival = startedAt.Add(time.Duration(hours * float64(time.Hour)))
		}
		entries = append(entries, TimetableEntry{
			Waypoint:         w,
			EstimatedArrival: arrival,
			DistanceKm:       cum,
			Next:             i == nextIdx,
			Passed:           i <= segIdx,
		})
	}
	return entries
}

// SegmentIndex maps a completion percentage onto the index of the waypoint
// the train last reached, for a route of n waypoints.
func SegmentIndex(n int, percentCompletion float64) int {
	if n < 2 {
		return 0
	}
	idx := int(math.Floor(percentCompletion / 100 * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}
