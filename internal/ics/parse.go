package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "icsimport/internal/log"
)

const (
	layoutDate     = "20060102"
	layoutLocal    = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
	propCategories = "CATEGORIES"
	propRecurrence = "RECURRENCE-ID"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Categories  []string

	// RawStart / RawEnd keep the literal DTSTART / DTEND values.
	RawStart string
	RawEnd   string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - Floating date-times and dates are interpreted in loc; TZID parameters
//     are honored when the zone is known.
//   - All-day events are detected by the DTSTART value form.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded; expansion
//     is done in expand.go.
//
// A VEVENT without UID is logged and skipped. Any other VEVENT that cannot
// be interpreted fails the whole payload.
func ParseICS(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if errors.Is(perr, errMissingUID) {
			appLog.Warn("ics vevent skipped", "err", perr.Error())
			continue
		}
		if perr != nil {
			return nil, fmt.Errorf("vevent %q: %w", ev.UID, perr)
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

var errMissingUID = errors.New("missing UID")

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errMissingUID
	}
	out.UID = uidProp.Value

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	for _, p := range ve.GetProperties(propCategories) {
		out.Categories = append(out.Categories, splitList(p.Value)...)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	start, err := parseICSTime(dtStart.Value, propLocation(dtStart, loc))
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.RawStart = strings.TrimSpace(dtStart.Value)
	out.Start = start
	// VALUE=DATE or no 'T' in the value -> all-day
	out.AllDay = isDateValue(dtStart)

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, err := parseICSTime(dtEnd.Value, propLocation(dtEnd, loc))
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.RawEnd = strings.TrimSpace(dtEnd.Value)
		out.End = end
	} else if out.AllDay {
		// A date without DTEND lasts the whole day.
		out.End = out.Start.AddDate(0, 0, 1)
		out.RawEnd = out.End.Format(layoutDate)
	} else {
		out.End = out.Start
		out.RawEnd = out.RawStart
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := propLocation(p, out.Start.Location())
		for _, part := range splitList(p.Value) {
			t, err := parseICSTime(part, exLoc)
			if err != nil {
				return out, fmt.Errorf("EXDATE: %w", err)
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty(propRecurrence); ridProp != nil {
		t, err := parseICSTime(ridProp.Value, propLocation(ridProp, out.Start.Location()))
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.Recurrence = &t
		out.IsOverride = true
	}

	return out, nil
}

// propLocation returns the zone named by the TZID parameter, or fallback.
func propLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if p == nil || p.ICalParameters == nil {
		return fallback
	}
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 {
		return fallback
	}
	loc, err := time.LoadLocation(strings.Trim(tzs[0], `"`))
	if err != nil {
		appLog.Debug("ics unknown TZID; using default zone", "tzid", tzs[0])
		return fallback
	}
	return loc
}

func isDateValue(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// UTC values ("Z" suffix) ignore loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse(layoutUTC, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation(layoutLocal, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation(layoutDate, v, loc)
}

// formatRaw renders t in the same form as the template raw value, so that
// expanded occurrences carry DTSTART-like values.
func formatRaw(t time.Time, template string, allDay bool) string {
	switch {
	case allDay:
		return t.Format(layoutDate)
	case strings.HasSuffix(template, "Z"):
		return t.UTC().Format(layoutUTC)
	default:
		return t.Format(layoutLocal)
	}
}

var textUnescaper = strings.NewReplacer(
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
	`\\`, `\`,
)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}

// splitList splits a comma separated property value, dropping empties.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(unescapeText(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
