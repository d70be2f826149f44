package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"slot-booking/database"
	apperrors "slot-booking/errors"
	"slot-booking/middleware"
	"slot-booking/model"
	"slot-booking/reservation"
)

type eventView struct {
	model.Event
	AvailableSlots int    `json:"available_slots"`
	IntegrityError string `json:"integrity_error,omitempty"`
}

func newEventView(event model.Event) eventView {
	if event.BookedSlots == nil {
		event.BookedSlots = []string{}
	}
	view := eventView{Event: event}
	available, err := reservation.AvailableSlots(event)
	view.AvailableSlots = available
	if err != nil {
		view.IntegrityError = err.Error()
	}
	return view
}

func (h *Handler) GetEvents(c *fiber.Ctx) error {
	events, err := h.events.ListEvents(c.UserContext())
	if err != nil {
		return apperrors.RaiseInternalServerError(c, fmt.Sprintf("database error: %v", err))
	}

	views := make([]eventView, 0, len(events))
	for _, event := range events {
		view := newEventView(event)
		if view.IntegrityError != "" {
			h.log.Error("event violates capacity invariant", "event_id", event.Id, "error", view.IntegrityError)
		}
		views = append(views, view)
	}

	return c.JSON(fiber.Map{"status": "success", "message": "events", "data": views})
}

func (h *Handler) GetEvent(c *fiber.Ctx) error {
	event, err := h.manager.Event(c.UserContext(), c.Params("id"))
	if errors.Is(err, reservation.ErrEventNotFound) {
		return apperrors.RaiseNotFoundError(c, fmt.Sprintf("event %v not found", c.Params("id")))
	}
	if err != nil {
		return apperrors.RaiseInternalServerError(c, fmt.Sprintf("database error: %v", err))
	}

	view := newEventView(event)
	if view.IntegrityError != "" {
		h.log.Error("event violates capacity invariant", "event_id", event.Id, "error", view.IntegrityError)
	}
	return c.JSON(fiber.Map{"status": "success", "message": "event", "data": view})
}

type createEventInput struct {
	Name       string `json:"name"`
	Date       string `json:"date"`
	TotalSlots *int   `json:"total_slots"`
}

func (h *Handler) CreateEvent(c *fiber.Ctx) error {
	if !middleware.IsAdmin(c) {
		return apperrors.RaisePermissionsError(c, "only admin can perform this operation")
	}

	input := new(createEventInput)
	if err := c.BodyParser(input); err != nil {
		return apperrors.RaiseBadRequestError(c, fmt.Sprintf("unacceptable event parameters: %v", err))
	}

	newEvent, err := validateEventInput(*input)
	if err != nil {
		return apperrors.RaiseBadRequestError(c, fmt.Sprintf("incorrect input for event parameters: %v", err))
	}

	// name uniqueness is enforced by the store
	created, err := h.events.CreateEvent(c.UserContext(), newEvent)
	if errors.Is(err, database.ErrDuplicateEventName) {
		return apperrors.RaiseBadRequestError(c, fmt.Sprintf("incorrect input for event parameters: %v", err))
	}
	if err != nil {
		return apperrors.RaiseInternalServerError(c, fmt.Sprintf("database error: %v", err))
	}

	h.log.Info("event created", "event_id", created.Id, "total_slots", created.TotalSlots)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "event created",
		"data":    newEventView(created)})
}

func validateEventInput(input createEventInput) (model.Event, error) {
	name := strings.TrimSpace(input.Name)
	if err := isValidEventName(name); err != nil {
		return model.Event{}, fmt.Errorf("incorrect input for event name: %w", err)
	}

	if input.TotalSlots == nil {
		return model.Event{}, errors.New("total_slots is required")
	}
	if *input.TotalSlots < 0 {
		return model.Event{}, fmt.Errorf("total_slots cannot be negative, got %d", *input.TotalSlots)
	}

	date, err := time.Parse(time.RFC3339, input.Date)
	if err != nil {
		return model.Event{}, errors.New("invalid date format, expected RFC3339")
	}

	return model.Event{
		Name:        name,
		Date:        date.UTC(),
		TotalSlots:  *input.TotalSlots,
		BookedSlots: []string{},
	}, nil
}

func isValidEventName(name string) error {
	if len(name) < 2 {
		return errors.New("event name is too short")
	}
	return nil
}
