package model

// Booking is the authoritative view of one user's reservation on an event,
// used to re-query state after an indeterminate booking attempt.
type Booking struct {
	EventId        string `json:"event_id"`
	UserId         string `json:"user_id"`
	Booked         bool   `json:"booked"`
	AvailableSlots int    `json:"available_slots"`
}
