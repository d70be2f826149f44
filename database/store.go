package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"slot-booking/model"
	"slot-booking/reservation"
)

var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateEventName is returned by CreateEvent when another event has the
// same name, compared case-insensitively.
var ErrDuplicateEventName = errors.New("event name already exist")

const (
	defaultTxAttempts = 100
	eventsChannel     = "events"
)

// EventStore is a reservation store that can also create and list events.
type EventStore interface {
	reservation.Store
	CreateEvent(ctx context.Context, event model.Event) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
}

type UserStore interface {
	GetUserData(ctx context.Context, login string) (model.UserData, error)
	GetUser(ctx context.Context, id string) (model.UserData, error)
	CreateUser(ctx context.Context, user model.UserData) (model.UserData, error)
}

// prepareEvent fills the id and normalises booked slots for a new event.
func prepareEvent(event model.Event) (model.Event, error) {
	event.Name = strings.TrimSpace(event.Name)
	if event.TotalSlots < 0 {
		return model.Event{}, fmt.Errorf("event total slots cannot be negative: %d", event.TotalSlots)
	}
	if event.Id == "" {
		event.Id = uuid.NewString()
	}
	booked := make([]string, 0, len(event.BookedSlots))
	for _, userId := range event.BookedSlots {
		if !contains(booked, userId) {
			booked = append(booked, userId)
		}
	}
	event.BookedSlots = booked
	return event, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func duplicateNameError(name string) error {
	return fmt.Errorf("%w: %q", ErrDuplicateEventName, name)
}

func prepareUser(user model.UserData) model.UserData {
	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	return user
}

// applyIntent returns event with intent applied. Adding a present user or
// removing an absent one leaves the set unchanged.
func applyIntent(event model.Event, intent reservation.Intent) model.Event {
	next := event.Clone()
	switch intent.Op {
	case reservation.IntentAdd:
		if !contains(next.BookedSlots, intent.UserId) {
			next.BookedSlots = append(next.BookedSlots, intent.UserId)
		}
	case reservation.IntentRemove:
		next.BookedSlots = without(next.BookedSlots, intent.UserId)
	}
	return next
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contentionError(eventId string) error {
	return fmt.Errorf("%w: event %s: too many conflicting writers", reservation.ErrTransientStore, eventId)
}
