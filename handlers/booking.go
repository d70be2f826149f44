package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "slot-booking/errors"
	"slot-booking/middleware"
	"slot-booking/reservation"
)

const notifyTimeout = 10 * time.Second

func (h *Handler) BookSlot(c *fiber.Ctx) error {
	eventId := c.Params("id")
	userId := middleware.UserId(c)

	outcome, err := h.manager.BookSlot(c.UserContext(), eventId, userId)
	if outcome == reservation.OutcomeBooked {
		go h.notify(eventId, userId, true)
	}
	return h.respondOutcome(c, eventId, outcome, err)
}

func (h *Handler) CancelSlot(c *fiber.Ctx) error {
	eventId := c.Params("id")
	userId := middleware.UserId(c)

	outcome, err := h.manager.CancelSlot(c.UserContext(), eventId, userId)
	if outcome == reservation.OutcomeCancelled {
		go h.notify(eventId, userId, false)
	}
	return h.respondOutcome(c, eventId, outcome, err)
}

// GetBooking re-reads the caller's booking. Clients use it to settle an
// unknown outcome.
func (h *Handler) GetBooking(c *fiber.Ctx) error {
	booking, err := h.manager.Lookup(c.UserContext(), c.Params("id"), middleware.UserId(c))
	switch {
	case errors.Is(err, reservation.ErrUnauthenticated):
		return apperrors.RaiseUnauthorizedError(c, reservation.OutcomeUnauthenticated.Message())
	case errors.Is(err, reservation.ErrEventNotFound):
		return apperrors.RaiseNotFoundError(c, reservation.OutcomeNotFound.Message())
	case errors.Is(err, reservation.ErrCapacityExceeded):
		h.log.Error("event violates capacity invariant", "event_id", booking.EventId, "error", err)
	case err != nil:
		return apperrors.RaiseInternalServerError(c, err.Error())
	}

	return c.JSON(fiber.Map{"status": "success", "message": "booking", "data": booking})
}

// respondOutcome turns every booking outcome into an explicit response so
// that no failed attempt looks like a success to the user.
func (h *Handler) respondOutcome(c *fiber.Ctx, eventId string, outcome reservation.Outcome, err error) error {
	data := fiber.Map{"event_id": eventId, "outcome": outcome.String()}

	switch outcome {
	case reservation.OutcomeBooked:
		if errors.Is(err, reservation.ErrCapacityExceeded) {
			data["integrity_error"] = err.Error()
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{
				"status":  "warning",
				"message": outcome.Message() + ", but the event is now overbooked",
				"data":    data})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"status":  "success",
			"message": outcome.Message(),
			"data":    data})

	case reservation.OutcomeAlreadyBooked, reservation.OutcomeCancelled, reservation.OutcomeNotBooked:
		return c.JSON(fiber.Map{"status": "success", "message": outcome.Message(), "data": data})

	case reservation.OutcomeEventFull:
		data["detail"] = outcome.Message()
		return apperrors.RaiseConflictError(c, data)

	case reservation.OutcomeNotFound:
		return apperrors.RaiseError(c, fiber.StatusNotFound, outcome.Message(), data)

	case reservation.OutcomeUnauthenticated:
		return apperrors.RaiseError(c, fiber.StatusUnauthorized, outcome.Message(), data)

	case reservation.OutcomeUnknown:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":  "unknown",
			"message": outcome.Message(),
			"data":    data})
	}

	h.log.Error("booking request failed", "event_id", eventId, "outcome", outcome.String(), "error", err)
	if errors.Is(err, reservation.ErrTransientStore) {
		data["detail"] = outcome.Message()
		return apperrors.RaiseUnavailableError(c, data)
	}
	return apperrors.RaiseError(c, fiber.StatusInternalServerError, "internal error", data)
}

func (h *Handler) notify(eventId, userId string, booked bool) {
	if h.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	user, err := h.users.GetUser(ctx, userId)
	if err != nil {
		h.log.Warn("failed to get user for notification", "user_id", userId, "error", err)
		return
	}
	event, err := h.manager.Event(ctx, eventId)
	if err != nil {
		h.log.Warn("failed to get event for notification", "event_id", eventId, "error", err)
		return
	}

	if booked {
		h.notifier.NotifyBooked(ctx, user, event)
	} else {
		h.notifier.NotifyCancelled(ctx, user, event)
	}
}
