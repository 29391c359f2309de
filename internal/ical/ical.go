// Package ical exports trip days as iCalendar feeds.
package ical

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

// Options tune an export. Executions, when set, supply live scheduled times
// and terminal states for the day being executed.
type Options struct {
	Location   *time.Location
	Executions []models.ActivityExecution
	Stamp      time.Time
}

// ExportDay renders one day of the itinerary.
func ExportDay(it *models.Itinerary, dayIndex int, opts Options) (string, error) {
	if !it.HasDay(dayIndex) {
		return "", fmt.Errorf("trip %s has no day %d", it.TripID, dayIndex)
	}
	cal := newCalendar(it, opts)
	if err := addDay(cal, it, it.Days[dayIndex], opts); err != nil {
		return "", err
	}
	return cal.Serialize(), nil
}

// ExportTrip renders every day of the itinerary.
func ExportTrip(it *models.Itinerary, opts Options) (string, error) {
	cal := newCalendar(it, opts)
	for _, day := range it.Days {
		if err := addDay(cal, it, day, opts); err != nil {
			return "", err
		}
	}
	return cal.Serialize(), nil
}

func newCalendar(it *models.Itinerary, opts Options) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//" + constants.AppName + "//" + constants.Version + "//EN")
	name := it.Title
	if name == "" {
		name = it.TripID
	}
	cal.SetXWRCalName(name)
	if opts.Location != nil && opts.Location != time.Local {
		cal.SetXWRTimezone(opts.Location.String())
	}
	return cal
}

func addDay(cal *ics.Calendar, it *models.Itinerary, day models.Day, opts Options) error {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	execs := make(map[string]models.ActivityExecution, len(opts.Executions))
	for _, x := range opts.Executions {
		if x.DayIndex == day.Index {
			execs[x.SlotID] = x
		}
	}

	for _, slot := range day.Slots {
		start, end, err := slotTimes(day, slot, loc)
		if err != nil {
			return err
		}
		x, tracked := execs[slot.ID]
		if tracked && !x.ScheduledStart.IsZero() {
			start, end = x.ScheduledStart, x.ScheduledEnd
		}

		ev := cal.AddEvent(fmt.Sprintf("%s@%s.%s", slot.ID, it.TripID, constants.AppName))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(slot.Name())
		ev.SetDescription(describe(slot))
		ev.SetStatus(status(slot, x, tracked))
		if opt, ok := slot.SelectedOption(); ok {
			if where := location(opt.Venue); where != "" {
				ev.SetLocation(where)
			}
			if c := opt.Venue.Location; c.Lat != 0 || c.Lng != 0 {
				ev.SetProperty(ics.ComponentPropertyGeo, fmt.Sprintf("%.6f;%.6f", c.Lat, c.Lng))
			}
		}
		ev.SetProperty(ics.ComponentPropertyCategories, strings.ToUpper(string(slot.Type)))
	}
	return nil
}

// slotTimes anchors a slot's HH:MM range to its day. An end before the
// start runs past midnight.
func slotTimes(day models.Day, slot models.Slot, loc *time.Location) (time.Time, time.Time, error) {
	if day.Date == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("day %d has no date", day.Index)
	}
	start, err := utils.CombineDateAndTime(day.Date, slot.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("slot %s: %w", slot.ID, err)
	}
	end, err := utils.CombineDateAndTime(day.Date, slot.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("slot %s: %w", slot.ID, err)
	}
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func status(slot models.Slot, x models.ActivityExecution, tracked bool) ics.ObjectStatus {
	if tracked {
		switch x.State {
		case models.StateSkipped, models.StateDeferred, models.StateReplaced:
			return ics.ObjectStatusCancelled
		}
	}
	if slot.IsLocked || slot.Fragility.IsBookingFixed() {
		return ics.ObjectStatusConfirmed
	}
	return ics.ObjectStatusTentative
}

func location(v models.Venue) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{v.Name, v.Address} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func describe(slot models.Slot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s slot (%s)", slot.Type, slot.Behavior)
	if f := slot.Fragility; f != nil && f.BookingRequired {
		b.WriteString("\nBooking required")
		if f.BookingTime != "" {
			fmt.Fprintf(&b, " at %s", f.BookingTime)
		}
		if f.BookingRef != "" {
			fmt.Fprintf(&b, " (ref %s)", f.BookingRef)
		}
	}
	if len(slot.Options) > 1 {
		alts := make([]string, 0, len(slot.Options)-1)
		for i, o := range slot.Options {
			if i != slot.Selected {
				alts = append(alts, o.Name)
			}
		}
		fmt.Fprintf(&b, "\nAlternatives: %s", strings.Join(alts, ", "))
	}
	return b.String()
}
