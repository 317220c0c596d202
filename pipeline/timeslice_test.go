package pipeline

import (
	"testing"
	"time"
)

func TestTimeSlice(t *testing.T) {
	tests := []struct {
		name      string
		minutes   int
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "15 minute interval mid-slot",
			minutes:   15,
			now:       time.Date(2013, 1, 1, 0, 14, 59, 0, time.UTC),
			wantStart: time.Date(2012, 12, 31, 23, 45, 0, 0, time.UTC),
			wantEnd:   time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "15 minute interval exactly on boundary",
			minutes:   15,
			now:       time.Date(2013, 1, 1, 0, 15, 0, 0, time.UTC),
			wantStart: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2013, 1, 1, 0, 15, 0, 0, time.UTC),
		},
		{
			name:      "daily interval",
			minutes:   1440,
			now:       time.Date(2013, 1, 1, 23, 59, 0, 0, time.UTC),
			wantStart: time.Date(2012, 12, 31, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "hourly interval",
			minutes:   60,
			now:       time.Date(2013, 6, 15, 10, 30, 0, 0, time.UTC),
			wantStart: time.Date(2013, 6, 15, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2013, 6, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input normalized",
			minutes:   60,
			now:       time.Date(2013, 6, 15, 5, 30, 0, 0, time.FixedZone("EST", -5*3600)),
			wantStart: time.Date(2013, 6, 15, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2013, 6, 15, 10, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := TimeSlice(tt.minutes, tt.now)
			if err != nil {
				t.Fatalf("TimeSlice() error = %v", err)
			}
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestTimeSliceRejectsBadIntervals(t *testing.T) {
	now := time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, minutes := range []int{0, -5, 14, 7, 1441, 997} {
		if _, _, err := TimeSlice(minutes, now); err == nil {
			t.Errorf("TimeSlice(%d) expected error, got nil", minutes)
		}
	}
}

func TestTimeSliceNeverSpansMidnight(t *testing.T) {
	now := time.Date(2013, 1, 1, 0, 5, 0, 0, time.UTC)
	for _, minutes := range []int{1, 5, 15, 30, 60, 120, 360, 720, 1440} {
		start, end, err := TimeSlice(minutes, now)
		if err != nil {
			t.Fatalf("TimeSlice(%d) error = %v", minutes, err)
		}
		if got := end.Sub(start); got != time.Duration(minutes)*time.Minute {
			t.Errorf("TimeSlice(%d) window = %v", minutes, got)
		}
		// Windows align to the day grid, so start never crosses into the
		// previous day except when it lands exactly on its midnight.
		if end.After(now) {
			t.Errorf("TimeSlice(%d) end %v is after now %v", minutes, end, now)
		}
	}
}
