package application

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/eventhub/internal/persistence"
)

const (
	maxTierNameLength        = 50
	maxTierDescriptionLength = 150
)

// ValidateTicketTier checks a single tier's fields and its cross-field
// constraints. index is used to name the offending field.
func ValidateTicketTier(in TicketTierInput, index int) error {
	field := func(name string) string {
		return fmt.Sprintf("ticketTiers[%d].%s", index, name)
	}

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return invalid(field("tierName"), "a ticket must have a name")
	case utf8.RuneCountInString(name) > maxTierNameLength:
		return invalidf(field("tierName"), "a ticket name must have at most %d characters", maxTierNameLength)
	}

	description := strings.TrimSpace(in.Description)
	switch {
	case description == "":
		return invalid(field("tierDescription"), "a ticket must have a description")
	case utf8.RuneCountInString(description) > maxTierDescriptionLength:
		return invalidf(field("tierDescription"), "a ticket description must have at most %d characters", maxTierDescriptionLength)
	}

	if in.Price == nil {
		return invalid(field("price"), "a ticket must have a price")
	}
	if *in.Price < 0 {
		return invalid(field("price"), "a ticket price cannot be negative")
	}
	if in.Online == nil {
		return invalid(field("online"), "a ticket must specify whether it is sold online")
	}
	if in.Capacity < 0 {
		return invalid(field("capacity"), "a ticket capacity cannot be negative")
	}
	if in.LimitPerCustomer < 0 {
		return invalid(field("limitPerCustomer"), "a ticket limit per customer cannot be negative")
	}
	if in.Capacity > 0 && in.LimitPerCustomer > in.Capacity {
		return invalid(field("limitPerCustomer"), "a ticket limit per customer cannot exceed its capacity")
	}
	return nil
}

// tierKey is the comparison form used for name uniqueness.
func tierKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// mergeTiers applies tier inputs onto the stored list by position. Existing
// tiers keep their id and cancel state; extra inputs become new tiers.
func mergeTiers(stored []persistence.TicketTier, inputs []TicketTierInput, newID func() string) []persistence.TicketTier {
	out := make([]persistence.TicketTier, 0, len(inputs))
	for i, in := range inputs {
		tier := persistence.TicketTier{
			Name:             strings.TrimSpace(in.Name),
			Description:      strings.TrimSpace(in.Description),
			Capacity:         in.Capacity,
			LimitPerCustomer: in.LimitPerCustomer,
		}
		if in.Price != nil {
			tier.Price = *in.Price
		}
		if in.Online != nil {
			tier.Online = *in.Online
		}
		if i < len(stored) {
			tier.ID = stored[i].ID
			tier.Canceled = stored[i].Canceled
		} else {
			tier.ID = newID()
		}
		out = append(out, tier)
	}
	return out
}

func findTier(event persistence.Event, tierID string) (int, bool) {
	for i, tier := range event.TicketTiers {
		if tier.ID == tierID {
			return i, true
		}
	}
	return -1, false
}

func activeTierCount(event persistence.Event) int {
	n := 0
	for _, tier := range event.TicketTiers {
		if !tier.Canceled {
			n++
		}
	}
	return n
}
