package schedule

import (
	"math"
	"time"

	"github.com/minqiao/notepress-backend/pkg/db/models"
)

const minutesPerDay = 24 * 60

// windowDuration returns the publishable span in minutes, treating an
// end at or before the start as crossing midnight.
func windowDuration(w *models.PublishWindow) int {
	end := w.EndMinute
	if end <= w.StartMinute {
		end += minutesPerDay
	}
	return end - w.StartMinute
}

// PublishTimes spreads count publish slots evenly across the window,
// anchored on now's calendar date. The count is clamped to the daily
// limit. A single slot lands on the window start; otherwise the first
// slot is the start, the last is the end, and the rest divide the span
// into equal intervals rounded to whole minutes.
func PublishTimes(w *models.PublishWindow, count int, now time.Time) []time.Time {
	if count > w.DailyLimit {
		count = w.DailyLimit
	}
	if count <= 0 {
		return nil
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	at := func(day time.Time, minutes int) time.Time {
		return day.Add(time.Duration(minutes) * time.Minute)
	}

	if count == 1 {
		return []time.Time{at(day, w.StartMinute)}
	}

	interval := float64(windowDuration(w)) / float64(count-1)
	times := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		minutes := w.StartMinute + int(math.Round(float64(i)*interval))
		slotDay := day
		if minutes >= minutesPerDay {
			minutes -= minutesPerDay
			slotDay = day.AddDate(0, 0, 1)
		}
		times = append(times, at(slotDay, minutes))
	}
	return times
}
