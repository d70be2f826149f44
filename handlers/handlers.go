package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"slot-booking/model"
	"slot-booking/notification"
	"slot-booking/reservation"
)

type EventStore interface {
	CreateEvent(ctx context.Context, event model.Event) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
}

type UserStore interface {
	GetUserData(ctx context.Context, login string) (model.UserData, error)
	GetUser(ctx context.Context, id string) (model.UserData, error)
}

type Handler struct {
	manager  *reservation.Manager
	events   EventStore
	users    UserStore
	notifier notification.Notifier
	signKey  []byte
	log      *slog.Logger

	hub       *eventHub
	heartbeat time.Duration
}

// New wires the HTTP handlers. notifier may be nil.
func New(
	manager *reservation.Manager,
	events EventStore,
	users UserStore,
	notifier notification.Notifier,
	signKey []byte,
	log *slog.Logger,
) *Handler {
	return &Handler{
		manager:  manager,
		events:   events,
		users:    users,
		notifier: notifier,
		signKey:  signKey,
		log:      log,

		hub:       newEventHub(manager, log),
		heartbeat: defaultHeartbeat,
	}
}

func (h *Handler) GetHello(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "ok",
		"data":    fiber.Map{"strategy": h.manager.Strategy().String()},
	})
}
