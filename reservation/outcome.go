package reservation

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeBooked
	OutcomeAlreadyBooked
	OutcomeEventFull
	OutcomeCancelled
	OutcomeNotBooked
	OutcomeNotFound
	OutcomeUnauthenticated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBooked:
		return "booked"
	case OutcomeAlreadyBooked:
		return "already_booked"
	case OutcomeEventFull:
		return "event_full"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNotBooked:
		return "not_booked"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is the user-facing text for an outcome. Every outcome has one so
// that no failed attempt is ever shown as a silent success.
func (o Outcome) Message() string {
	switch o {
	case OutcomeBooked:
		return "slot booked successfully"
	case OutcomeAlreadyBooked:
		return "you have already booked a slot for this event"
	case OutcomeEventFull:
		return "no more slots available for this event"
	case OutcomeCancelled:
		return "booking cancelled"
	case OutcomeNotBooked:
		return "you have no booking for this event"
	case OutcomeNotFound:
		return "event does not exist"
	case OutcomeUnauthenticated:
		return "you must be logged in to book a slot"
	case OutcomeFailed:
		return "booking service is temporarily unavailable, try again later"
	default:
		return "booking result could not be confirmed, refresh the event to check your slot"
	}
}
