package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icsimport/internal/log"
	"icsimport/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Window is the inclusive time range occurrences must intersect.
	Window model.Window

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded events and optionally
// information about truncation.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences takes the parsed VEVENTs of a feed and turns them into
// concrete events within the window, in feed order:
//
//   - Single non-recurring events pass through when they intersect the window
//   - RRULE-based recurrence yields one event per occurrence, chronologically
//   - EXDATE removes occurrences
//   - RECURRENCE-ID overrides replace the occurrence they point at
//   - All-day semantics are preserved
//
// Every occurrence of a series, overridden or not, is marked IsRecurring and
// carries its own RawStart. An RRULE that cannot be parsed fails the whole
// expansion.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.Window.End.Before(cfg.Window.Start) {
		return result, errors.New("expand: window end is before window start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Overrides are applied to the series they belong to. Overrides whose
	// series is absent from the feed are imported on their own.
	overridesByUID := make(map[string][]ParsedEvent)
	seriesUIDs := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else if ev.RawRRule != "" {
			seriesUIDs[ev.UID] = true
		}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.IsOverride && seriesUIDs[ev.UID]:
			continue
		case ev.IsOverride:
			if cfg.Window.Overlaps(ev.Start, ev.End) {
				out = append(out, toEvent(ev, ev.Start, ev.End, true))
			}
		case ev.RawRRule == "":
			if cfg.Window.Overlaps(ev.Start, ev.End) {
				out = append(out, toEvent(ev, ev.Start, ev.End, false))
			}
		default:
			occ, hitCap, err := expandRecurringEvent(ev, overridesByUID[ev.UID], cfg)
			if err != nil {
				return result, fmt.Errorf("expand %q: %w", ev.UID, err)
			}
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
				appLog.Warn("expand: truncated occurrences for UID due to cap",
					"uid", ev.UID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
			out = append(out, occ...)
		}
	}

	result.Events = out
	return result, nil
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool, error) {
	out := make([]model.Event, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, fmt.Errorf("invalid RRULE %q: %w", ev.RawRRule, err)
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)

	// Widen the lower bound by the duration so occurrences that started
	// before the window but are still running are included.
	rangeStart := cfg.Window.Start.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.Window.End.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// All-day: keep the number of days of the base event.
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			days := int(dur.Hours()+12) / 24
			if days < 1 {
				days = 1
			}
			occEnd = date.AddDate(0, 0, days)
		} else {
			occEnd = occStart.Add(dur)
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if cfg.Window.Overlaps(o.Start, o.End) {
				out = append(out, toEvent(o, o.Start, o.End, true))
			}
			continue
		}

		occ := toEvent(ev, occStart, occEnd, true)
		occ.RawStart = formatRaw(occStart, ev.RawStart, ev.AllDay)
		occ.RawEnd = formatRaw(occEnd, ev.RawEnd, ev.AllDay)
		out = append(out, occ)
	}

	return out, hitCap, nil
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given occurrence start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toEvent(ev ParsedEvent, start, end time.Time, recurring bool) model.Event {
	return model.Event{
		UID:         ev.UID,
		RawStart:    ev.RawStart,
		RawEnd:      ev.RawEnd,
		Start:       start,
		End:         end,
		Summary:     ev.Summary,
		Description: ev.Description,
		Categories:  ev.Categories,
		Location:    ev.Location,
		IsRecurring: recurring,
	}
}
