package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "slot-booking/errors"
	"slot-booking/model"
	"slot-booking/reservation"
)

const (
	defaultHeartbeat = 15 * time.Second
	streamBuffer     = 16
)

// eventHub shares one store watch between all stream clients. The watch runs
// while at least one client is subscribed. A client that cannot keep up is
// dropped instead of stalling the others.
type eventHub struct {
	manager *reservation.Manager
	log     *slog.Logger

	mu   sync.Mutex
	subs map[chan model.Event]struct{}
	run  *hubRun
}

type hubRun struct {
	cancel context.CancelFunc
}

func newEventHub(manager *reservation.Manager, log *slog.Logger) *eventHub {
	return &eventHub{manager: manager, log: log, subs: map[chan model.Event]struct{}{}}
}

// subscribe registers a client. The channel is closed when the client is
// dropped or the watch fails.
func (hub *eventHub) subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, streamBuffer)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.subs[ch] = struct{}{}
	if hub.run == nil {
		ctx, cancel := context.WithCancel(context.Background())
		run := &hubRun{cancel: cancel}
		hub.run = run
		go hub.watch(ctx, run)
	}

	return ch, func() { hub.unsubscribe(ch) }
}

func (hub *eventHub) unsubscribe(ch chan model.Event) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.subs[ch]; ok {
		delete(hub.subs, ch)
		close(ch)
	}
	if len(hub.subs) == 0 && hub.run != nil {
		hub.run.cancel()
		hub.run = nil
	}
}

func (hub *eventHub) watch(ctx context.Context, run *hubRun) {
	err := hub.manager.Watch(ctx, hub.broadcast)
	if err != nil && !errors.Is(err, context.Canceled) {
		hub.log.Warn("event watch stopped", "error", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.run != run {
		return
	}
	hub.run = nil
	for ch := range hub.subs {
		delete(hub.subs, ch)
		close(ch)
	}
}

func (hub *eventHub) broadcast(event model.Event) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.subs {
		select {
		case ch <- event:
		default:
			delete(hub.subs, ch)
			close(ch)
		}
	}
}

func (hub *eventHub) clients() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.subs)
}

func (hub *eventHub) watching() bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.run != nil
}

// StreamEvents pushes every change to the events collection as a
// server-sent event until the client goes away. A comment line is sent on
// every heartbeat so that a closed connection is noticed while the feed is
// quiet.
func (h *Handler) StreamEvents(c *fiber.Ctx) error {
	if !h.manager.CanWatch() {
		return apperrors.RaiseError(c, fiber.StatusNotImplemented, "not implemented",
			"the configured store cannot stream event changes")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		changes, unsubscribe := h.hub.subscribe()
		defer unsubscribe()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		// flush the headers right away
		fmt.Fprint(w, ": connected\n\n")
		for {
			if err := w.Flush(); err != nil {
				// client disconnected
				return
			}

			select {
			case event, ok := <-changes:
				if !ok {
					return
				}
				payload, err := json.Marshal(newEventView(event))
				if err != nil {
					h.log.Error("encode event for stream", "event_id", event.Id, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: event\ndata: %s\n\n", payload)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
		}
	})
	return nil
}
