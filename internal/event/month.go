package event

import (
	"fmt"
	"time"
)

// Month is a calendar month, the unit of cache bucketing.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing the given civil timestamp.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Key renders the month as YYYY-MM, the bucket key suffix.
func (m Month) Key() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// FirstDay returns midnight on the first day of the month.
func (m Month) FirstDay() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// After reports whether m is strictly later than o.
func (m Month) After(o Month) bool {
	if m.Year != o.Year {
		return m.Year > o.Year
	}
	return m.Month > o.Month
}

// Sub returns the number of whole calendar months from o to m. Positive when
// m is later.
func (m Month) Sub(o Month) int {
	return (m.Year-o.Year)*12 + int(m.Month) - int(o.Month)
}

// MonthsBetween returns the inclusive sequence of months from the month of
// from through the month of to. Returns nil when from is after to.
func MonthsBetween(from, to time.Time) []Month {
	if from.After(to) {
		return nil
	}
	var months []Month
	last := MonthOf(to)
	for m := MonthOf(from); !m.After(last); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// Months returns every calendar month the event's interval touches. An event
// spanning months belongs to all of them.
func (e Event) Months() []Month {
	return MonthsBetween(e.StartsAt, e.EndsAt)
}

// TouchedMonths returns the union of months touched by any of the events.
func TouchedMonths(events []Event) []Month {
	seen := make(map[Month]struct{})
	var months []Month
	for _, e := range events {
		for _, m := range e.Months() {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			months = append(months, m)
		}
	}
	return months
}
