package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSchedule() ScheduleConfig {
	return ScheduleConfig{PostsPerDay: 2, MaxPosts: 14, MorningSlotHour: 9, AfternoonSlotHour: 15}
}

func TestPlanSlots_SevenDayWindow(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	slots := PlanSlots(start, end, defaultSchedule())

	require.Len(t, slots, 14)

	// First slot is 09:00 on the start date, second is 15:00 the same day.
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), slots[0])
	assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), slots[1])

	// Last slot is the afternoon of day 7, still inside the window.
	assert.Equal(t, time.Date(2025, 3, 16, 15, 0, 0, 0, time.UTC), slots[13])

	for i, s := range slots {
		assert.False(t, s.Before(start), "slot %d before window start", i)
		assert.True(t, s.Before(end), "slot %d past window end", i)
		if i > 0 {
			assert.True(t, s.After(slots[i-1]), "slot %d not after slot %d", i, i-1)
		}
	}
}

func TestPlanSlots_CappedAtMaxPosts(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	slots := PlanSlots(start, start.AddDate(0, 0, 30), defaultSchedule())
	assert.Len(t, slots, 14)
}

func TestPlanSlots_OnePerDay(t *testing.T) {
	cfg := defaultSchedule()
	cfg.PostsPerDay = 1
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	slots := PlanSlots(start, start.AddDate(0, 0, 3), cfg)
	require.Len(t, slots, 3)
	for i, s := range slots {
		assert.Equal(t, 9, s.Hour())
		assert.Equal(t, start.AddDate(0, 0, i).Day(), s.Day())
	}
}

func TestPlanSlots_EmptyWindow(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, PlanSlots(start, start, defaultSchedule()))
	assert.Empty(t, PlanSlots(start, start.AddDate(0, 0, -2), defaultSchedule()))
}
