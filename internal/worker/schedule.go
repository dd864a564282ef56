package worker

import "time"

// ScheduleConfig controls slot planning.
type ScheduleConfig struct {
	PostsPerDay       int
	MaxPosts          int
	MorningSlotHour   int
	AfternoonSlotHour int
}

// PlanSlots lays out the posting times across the campaign's date
// window: PostsPerDay slots per day from start (inclusive) to end
// (exclusive), alternating the morning and afternoon hours, capped at
// MaxPosts total. The slot count is window days times PostsPerDay
// before the cap, never the product of anything else; a 7 day window
// at 2 per day is exactly 14 slots.
func PlanSlots(start, end time.Time, cfg ScheduleConfig) []time.Time {
	days := int(end.Sub(start).Hours() / 24)
	total := days * cfg.PostsPerDay
	if total > cfg.MaxPosts {
		total = cfg.MaxPosts
	}
	if total <= 0 {
		return nil
	}

	firstDay := start

	slots := make([]time.Time, 0, total)
	for i := 0; i < total; i++ {
		day := i / cfg.PostsPerDay
		slotInDay := i % cfg.PostsPerDay

		// First slot of the day is the morning hour, the rest spread
		// from the afternoon hour onward.
		hour := cfg.MorningSlotHour
		if slotInDay > 0 {
			hour = cfg.AfternoonSlotHour + (slotInDay - 1)
		}

		d := firstDay.AddDate(0, 0, day)
		slots = append(slots, time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, start.Location()))
	}
	return slots
}
