// Package calendar derives the facts about "today" that are worth telling a
// contact: anniversaries, birthdays, custom plans and the cycle window.
package calendar

import (
	"sort"
	"time"

	"github.com/xonecas/heartline/internal/store"
)

// DayState marks a day in the cycle map.
type DayState int

const (
	DayNone DayState = iota
	DayActive
	DayPredicted
)

// Phase is the cycle status relevant to today.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseActive
	PhasePredicted
	// PhaseUpcoming means a predicted day falls two days from today.
	PhaseUpcoming
)

// upcomingLead is how far ahead an upcoming cycle is announced.
const upcomingLead = 2

// Facts are the calendar events that apply to one day.
type Facts struct {
	Anniversaries   []string
	ContactBirthday bool
	UserBirthday    bool
	Custom          []string
	Cycle           Phase
}

// Empty reports whether there is nothing to mention.
func (f Facts) Empty() bool {
	return len(f.Anniversaries) == 0 && !f.ContactBirthday && !f.UserBirthday &&
		len(f.Custom) == 0 && f.Cycle == PhaseNone
}

// Today collects the facts for now's calendar day. A character birthday
// only counts when its title names the contact.
func Today(cal store.Calendar, contactName string, now time.Time) Facts {
	var f Facts
	today := dayKey(now)
	for _, ev := range cal[today] {
		switch ev.Type {
		case store.EventAnniversary:
			f.Anniversaries = append(f.Anniversaries, ev.Title)
		case store.EventBirthdayChar:
			if ev.Title == contactName {
				f.ContactBirthday = true
			}
		case store.EventBirthdayUser:
			f.UserBirthday = true
		case store.EventCustom:
			f.Custom = append(f.Custom, ev.Title)
		}
	}

	viewEnd := time.Date(now.Year(), now.Month()+1, 15, 0, 0, 0, 0, now.Location())
	days := PeriodDays(cal, viewEnd, now.Location())
	switch days[today] {
	case DayActive:
		f.Cycle = PhaseActive
	case DayPredicted:
		f.Cycle = PhasePredicted
	default:
		if days[dayKey(now.AddDate(0, 0, upcomingLead))] == DayPredicted {
			f.Cycle = PhaseUpcoming
		}
	}
	return f
}

type start struct {
	date     time.Time
	cycle    int
	duration int
}

// PeriodDays marks recorded cycle days as active and projects the latest
// recorded start forward by its cycle length until past viewEnd. A recorded
// end date caps the active span of the start before it; without one the
// span lasts duration days.
func PeriodDays(cal store.Calendar, viewEnd time.Time, loc *time.Location) map[string]DayState {
	var starts []start
	var ends []time.Time
	for key, events := range cal {
		date, err := time.ParseInLocation(store.CalendarDateLayout, key, loc)
		if err != nil {
			continue
		}
		for _, ev := range events {
			switch ev.Type {
			case store.EventPeriodStart, store.EventPeriodLegacy:
				s := start{date: date, cycle: ev.Cycle, duration: ev.Duration}
				if s.cycle <= 0 {
					s.cycle = store.DefaultCycleDays
				}
				if s.duration <= 0 {
					s.duration = store.DefaultPeriodDays
				}
				starts = append(starts, s)
			case store.EventPeriodEnd:
				ends = append(ends, date)
			}
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].date.Before(starts[j].date) })
	sort.Slice(ends, func(i, j int) bool { return ends[i].Before(ends[j]) })

	days := make(map[string]DayState)
	for _, s := range starts {
		limit := s.date.AddDate(0, 0, s.duration-1)
		for _, end := range ends {
			if !end.Before(s.date) {
				limit = end
				break
			}
		}
		for d := s.date; !d.After(limit); d = d.AddDate(0, 0, 1) {
			days[dayKey(d)] = DayActive
		}
	}

	if len(starts) == 0 {
		return days
	}
	last := starts[len(starts)-1]
	next := last.date
	for !next.After(viewEnd) {
		next = next.AddDate(0, 0, last.cycle)
		if days[dayKey(next)] != DayNone {
			continue
		}
		for i := 0; i < last.duration; i++ {
			key := dayKey(next.AddDate(0, 0, i))
			if days[key] == DayNone {
				days[key] = DayPredicted
			}
		}
	}
	return days
}

func dayKey(t time.Time) string {
	return t.Format(store.CalendarDateLayout)
}
