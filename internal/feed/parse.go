package feed

import (
	"bytes"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"cleansweep/internal/domain"
)

// Airbnb summaries look like "Guest Name (HMABCDEF12)".
var guestNamePattern = regexp.MustCompile(`^([^(]+)\s*\(`)

// Recurring VEVENTs are expanded at most this far past the last DTSTART to
// keep open-ended rules bounded.
const recurrenceHorizon = 366 * 24 * time.Hour

// Parse turns a raw ICS payload into a normalized booking list sorted by
// check-in date. Events that do not represent guest stays (cancelled events,
// host-blocked dates) are dropped. Recurring events are expanded into one
// booking per occurrence with a date-qualified uid.
func Parse(body []byte) ([]domain.Booking, error) {
	if len(body) == 0 {
		return nil, malformed(errors.New("empty ICS body"))
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, malformed(err)
	}

	var bookings []domain.Booking
	for _, ve := range cal.Events() {
		evs, ok := parseVEvent(ve)
		if !ok {
			continue
		}
		bookings = append(bookings, evs...)
	}

	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].CheckIn.Before(bookings[j].CheckIn)
	})
	return bookings, nil
}

func parseVEvent(ve *ical.VEvent) ([]domain.Booking, bool) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, false
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return nil, false
	}

	summary := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		summary = p.Value
	}
	lowered := strings.ToLower(summary)
	if strings.Contains(lowered, "blocked") || strings.Contains(lowered, "not available") {
		return nil, false
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, false
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return nil, false
	}

	booking := domain.Booking{
		UID:      uidProp.Value,
		CheckIn:  start,
		CheckOut: end,
	}
	if m := guestNamePattern.FindStringSubmatch(summary); m != nil {
		booking.GuestName = strings.TrimSpace(m[1])
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		booking.Description = p.Value
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		return []domain.Booking{booking}, true
	}
	return expandRecurring(booking, rruleProp.Value), true
}

// expandRecurring emits one booking per RRULE occurrence, preserving the
// stay's duration. Occurrence uids are suffixed with the occurrence date so
// each materializes as its own schedule item.
func expandRecurring(base domain.Booking, rawRRule string) []domain.Booking {
	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		// Bad RRULE on one event should not sink the feed; keep the base stay.
		return []domain.Booking{base}
	}
	r.DTStart(base.CheckIn)

	duration := base.CheckOut.Sub(base.CheckIn)
	until := base.CheckIn.Add(recurrenceHorizon)
	starts := r.Between(base.CheckIn, until, true)

	out := make([]domain.Booking, 0, len(starts))
	for _, s := range starts {
		b := base
		b.CheckIn = s
		b.CheckOut = s.Add(duration)
		if !s.Equal(base.CheckIn) {
			b.UID = base.UID + ":" + s.Format("20060102")
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return []domain.Booking{base}
	}
	return out
}
