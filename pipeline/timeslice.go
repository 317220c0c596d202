// Package pipeline runs the digest cycle: pick the time window, claim it,
// page through subscribers, and fan batches out to fetch, build, and send.
package pipeline

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// TimeSlice returns the digest window for a run started at now. The window
// ends at the most recent interval boundary at or before now, where
// boundaries are counted from UTC midnight, and starts one interval earlier.
// The interval is given in minutes and must divide a day evenly.
func TimeSlice(minutes int, now time.Time) (time.Time, time.Time, error) {
	if minutes < 1 || minutes > minutesPerDay || minutesPerDay%minutes != 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("digest interval must evenly divide a day, got %d minutes", minutes)
	}

	interval := time.Duration(minutes) * time.Minute
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)

	end := midnight.Add(nowUTC.Sub(midnight).Truncate(interval))
	return end.Add(-interval), end, nil
}
