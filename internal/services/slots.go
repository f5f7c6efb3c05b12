package services

import (
	"context"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
)

// Business-hours generator settings (UTC)
const (
	seedDayStartHour = 9
	seedDayEndHour   = 17
	seedSlotLength   = 30 * time.Minute
)

// SeedBusinessHours creates 30-minute weekday slots between 09:00 and 17:00 UTC
// for the given number of days starting at from. Existing slots are skipped and
// slots already in the past are not created. Returns the number created.
func (s *BookingService) SeedBusinessHours(ctx context.Context, from time.Time, days int) (int, error) {
	now := s.now()
	from = from.UTC()
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	created := 0

	for d := 0; d < days; d++ {
		date := day.AddDate(0, 0, d)
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}

		start := date.Add(seedDayStartHour * time.Hour)
		end := date.Add(seedDayEndHour * time.Hour)
		for t := start; t.Before(end); t = t.Add(seedSlotLength) {
			if t.Before(now) {
				continue
			}
			exists, err := s.store.SlotExists(ctx, t, nil)
			if err != nil {
				return created, err
			}
			if exists {
				continue
			}
			slot := &models.Slot{
				StartTime:   t,
				EndTime:     t.Add(seedSlotLength),
				SlotType:    "standard",
				IsAvailable: true,
			}
			if err := s.store.CreateSlot(ctx, slot); err != nil {
				return created, err
			}
			created++
		}
	}

	if created > 0 {
		s.log.Info("slots_seeded", "count", created, "days", days)
	}
	return created, nil
}
