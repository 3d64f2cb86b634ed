package application

import "github.com/example/eventhub/internal/persistence"

// RequireAuthenticated fails with ErrUnauthenticated for anonymous callers.
func RequireAuthenticated(p Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin fails unless the principal is a signed-in administrator.
func RequireAdmin(p Principal) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// CanManageEvent reports whether p is an administrator or the event's organizer.
func CanManageEvent(p Principal, event persistence.Event) bool {
	if !p.Authenticated() {
		return false
	}
	return p.IsAdmin() || event.OrganizerID == p.UserID
}

// AuthorizeEventMutation gates every write to an event aggregate.
func AuthorizeEventMutation(p Principal, event persistence.Event) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if !CanManageEvent(p, event) {
		return ErrForbidden
	}
	return nil
}

// CanViewEvent reports whether p may read the event. Drafts are only visible
// to their organizer and administrators.
func CanViewEvent(p Principal, event persistence.Event) bool {
	return event.Published || CanManageEvent(p, event)
}

// CanViewBooking reports whether p may read the booking: its holder, the
// organizer of the booked event, or an administrator.
func CanViewBooking(p Principal, booking persistence.Booking, event persistence.Event) bool {
	if !p.Authenticated() {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	if booking.UserID != "" && booking.UserID == p.UserID {
		return true
	}
	return event.ID == booking.EventID && event.OrganizerID == p.UserID
}
