package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"slot-booking/handlers"
	"slot-booking/middleware"
)

func SetupRoutes(app *fiber.App, h *handlers.Handler, signKey []byte) {
	api := app.Group("/", logger.New())
	api.Get("/hello", h.GetHello)

	//Login
	login := api.Group("/login")
	login.Post("/", h.Login)

	//Events
	events := api.Group("/events")
	events.Get("/", h.GetEvents)
	events.Get("/stream", h.StreamEvents)
	events.Get("/:id", h.GetEvent)
	events.Post("/", middleware.Authorize(signKey), h.CreateEvent)

	//Booking
	booking := events.Group("/:id/booking", middleware.Authorize(signKey))
	booking.Get("/", h.GetBooking)
	booking.Post("/", h.BookSlot)
	booking.Delete("/", h.CancelSlot)
}
