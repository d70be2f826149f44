package model

import "time"

type Event struct {
	Id          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Date        time.Time `json:"date" bson:"date"`
	TotalSlots  int       `json:"total_slots" bson:"total_slots"`
	BookedSlots []string  `json:"booked_slots" bson:"booked_slots"`
}

// HasBooked reports whether userId currently holds a slot.
func (e Event) HasBooked(userId string) bool {
	for _, booked := range e.BookedSlots {
		if booked == userId {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the booked slots backing array.
func (e Event) Clone() Event {
	clone := e
	clone.BookedSlots = append([]string(nil), e.BookedSlots...)
	return clone
}
