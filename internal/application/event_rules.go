package application

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/eventhub/internal/persistence"
)

const (
	maxEventNameLength    = 75
	maxDescriptionLength  = 2000
	maxRefundPolicyLength = 500
	minTicketTiers        = 1
	maxTicketTiers        = 10
)

// EventTypes lists the accepted values for Event.Type.
var EventTypes = []string{
	"conference", "seminar", "workshop", "concert", "festival",
	"performance", "sport", "networking", "party", "other",
}

// EventCategories lists the accepted values for Event.Category.
var EventCategories = []string{
	"business", "music", "arts", "food-drink", "sports-fitness",
	"science-tech", "health", "community", "education", "other",
}

// FeePolicies lists the accepted publish-time fee policies.
var FeePolicies = []string{"passFee", "absorbFee"}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateEvent checks the aggregate invariants of an event and returns the
// first violation. now is used for the future-start rule.
func ValidateEvent(event persistence.Event, now time.Time) error {
	name := strings.TrimSpace(event.Name)
	switch {
	case name == "":
		return invalid("name", "an event must have a name")
	case utf8.RuneCountInString(name) > maxEventNameLength:
		return invalidf("name", "an event name must have at most %d characters", maxEventNameLength)
	}
	if !oneOf(event.Type, EventTypes) {
		return invalidf("type", "event type must be one of: %s", strings.Join(EventTypes, ", "))
	}
	if !oneOf(event.Category, EventCategories) {
		return invalidf("category", "event category must be one of: %s", strings.Join(EventCategories, ", "))
	}
	if utf8.RuneCountInString(event.Description) > maxDescriptionLength {
		return invalidf("description", "an event description must have at most %d characters", maxDescriptionLength)
	}

	if n := len(event.TicketTiers); n < minTicketTiers || n > maxTicketTiers {
		return invalidf("ticketTiers", "an event must have between %d and %d tickets", minTicketTiers, maxTicketTiers)
	}
	seen := make(map[string]struct{}, len(event.TicketTiers))
	for _, tier := range event.TicketTiers {
		key := tierKey(tier.Name)
		if _, dup := seen[key]; dup {
			return invalidf("ticketTiers", "ticket names must be unique within an event (%q is repeated)", strings.TrimSpace(tier.Name))
		}
		seen[key] = struct{}{}
	}

	if event.DateTimeStart.IsZero() {
		return invalid("dateTimeStart", "an event must have a start date")
	}
	if event.DateTimeEnd.IsZero() {
		return invalid("dateTimeEnd", "an event must have an end date")
	}
	if !event.DateTimeStart.After(now) {
		return invalid("dateTimeStart", "an event must start in the future")
	}
	if !event.DateTimeEnd.After(event.DateTimeStart) {
		return invalid("dateTimeEnd", "an event must end after it starts")
	}

	hasAddress := strings.TrimSpace(event.Address) != ""
	if hasAddress != (event.Location != nil) {
		return invalid("location", "address and location must be provided together")
	}
	if loc := event.Location; loc != nil {
		if loc.Lon < -180 || loc.Lon > 180 || loc.Lat < -90 || loc.Lat > 90 {
			return invalid("location", "location coordinates are out of range")
		}
	}

	return validateCapacity(event)
}

// validateCapacity enforces the relation between tier capacities and the
// event total. A total of zero means unlimited and allows anything.
func validateCapacity(event persistence.Event) error {
	if event.TotalCapacity < 0 {
		return invalid("totalCapacity", "total capacity cannot be negative")
	}
	if event.TotalCapacity == 0 {
		return nil
	}

	sum := 0
	allFinite := true
	for _, tier := range event.TicketTiers {
		if tier.Capacity == 0 {
			allFinite = false
			continue
		}
		sum += tier.Capacity
	}
	if sum > event.TotalCapacity {
		return invalid("ticketTiers", "ticket capacities cannot exceed the event total")
	}
	if allFinite && sum != event.TotalCapacity {
		return invalid("ticketTiers", "ticket capacities must add up to the event total")
	}
	return nil
}

// checkMutable rejects writes to events that are canceled or already started.
func checkMutable(event persistence.Event, now time.Time) error {
	if event.Canceled {
		return stateError("event already canceled")
	}
	if !event.DateTimeStart.After(now) {
		return stateError("event has already started")
	}
	return nil
}

// applyEventPatch copies the allow-listed fields of patch onto event. Tier
// shrinkage is rejected before this is called.
func applyEventPatch(event persistence.Event, patch EventPatch, newID func() string) persistence.Event {
	out := event
	if patch.Name != nil {
		out.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Type != nil {
		out.Type = *patch.Type
	}
	if patch.Category != nil {
		out.Category = *patch.Category
	}
	if patch.Description != nil {
		out.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.TicketTiers != nil {
		out.TicketTiers = mergeTiers(event.TicketTiers, patch.TicketTiers, newID)
	}
	if patch.DateTimeStart != nil {
		out.DateTimeStart = patch.DateTimeStart.UTC()
	}
	if patch.DateTimeEnd != nil {
		out.DateTimeEnd = patch.DateTimeEnd.UTC()
	}
	if patch.Address != nil {
		out.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.Location != nil {
		loc := *patch.Location
		out.Location = &loc
	}
	if patch.TotalCapacity != nil {
		out.TotalCapacity = *patch.TotalCapacity
	}
	return out
}
