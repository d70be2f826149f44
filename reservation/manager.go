// Package reservation admits users into capacity-bounded events stored in a
// remote document store. The manager never locks an event itself: all mutual
// exclusion comes from the store's transaction primitive.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"slot-booking/model"
)

// Strategy selects how BookSlot and CancelSlot write to the store.
type Strategy int

const (
	// StrategyTransactional runs read-check-write inside a store
	// transaction and never oversells.
	StrategyTransactional Strategy = iota
	// StrategyBestEffort applies an unconditional set-union write. It
	// deduplicates users but cannot enforce capacity: concurrent callers may
	// overshoot TotalSlots, which is reported as ErrCapacityExceeded.
	StrategyBestEffort
)

func (s Strategy) String() string {
	if s == StrategyBestEffort {
		return "best-effort"
	}
	return "transactional"
}

// ParseStrategy reads a strategy name as used in configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "transactional", "transaction":
		return StrategyTransactional, nil
	case "best-effort", "besteffort", "set-union":
		return StrategyBestEffort, nil
	}
	return StrategyTransactional, fmt.Errorf("unknown booking strategy %q", s)
}

// Config tunes a Manager.
type Config struct {
	Strategy Strategy
	Retry    RetryConfig
	// Timeout bounds a whole booking attempt including retries. Zero
	// leaves the caller's context as the only deadline.
	Timeout time.Duration
}

// Manager books and cancels slots against a Store. It is safe for
// concurrent use.
type Manager struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

func NewManager(store Store, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		log:   log.With("component", "reservation", "strategy", cfg.Strategy.String()),
	}
}

func (m *Manager) Strategy() Strategy {
	return m.cfg.Strategy
}

// AvailableSlots returns TotalSlots minus the number of booked users. A
// negative result is returned as is, together with ErrCapacityExceeded.
func AvailableSlots(event model.Event) (int, error) {
	available := event.TotalSlots - len(event.BookedSlots)
	if available < 0 {
		return available, fmt.Errorf("%w: event %s has %d bookings for %d slots",
			ErrCapacityExceeded, event.Id, len(event.BookedSlots), event.TotalSlots)
	}
	return available, nil
}

// BookSlot tries to add userId to the event's booked set.
//
// Booked, AlreadyBooked and EventFull come back with a nil error. NotFound,
// Unauthenticated, Unknown and Failed come back with an error wrapping the
// matching sentinel. With the best-effort strategy a Booked outcome may carry
// ErrCapacityExceeded when the set-union write pushed the event over capacity.
func (m *Manager) BookSlot(ctx context.Context, eventId, userId string) (Outcome, error) {
	if userId == "" {
		return OutcomeUnauthenticated, ErrUnauthenticated
	}
	if eventId == "" {
		return OutcomeNotFound, ErrEventNotFound
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		outcome Outcome
		err     error
	)
	if m.cfg.Strategy == StrategyBestEffort {
		outcome, err = m.bookBestEffort(ctx, eventId, userId)
	} else {
		outcome, err = m.bookTransactional(ctx, eventId, userId)
	}

	m.logResult("book slot", eventId, userId, outcome, err)
	return outcome, err
}

func (m *Manager) bookTransactional(ctx context.Context, eventId, userId string) (Outcome, error) {
	var outcome Outcome
	err := m.retry(ctx, "book", func(ctx context.Context) error {
		return m.store.RunTransaction(ctx, eventId, func(current model.Event) (Intent, error) {
			switch {
			case current.HasBooked(userId):
				outcome = OutcomeAlreadyBooked
				return NoWrite(), nil
			case len(current.BookedSlots) >= current.TotalSlots:
				outcome = OutcomeEventFull
				return NoWrite(), nil
			}
			outcome = OutcomeBooked
			return Add(userId), nil
		})
	})
	if err != nil {
		return classifyWrite(err)
	}
	return outcome, nil
}

func (m *Manager) bookBestEffort(ctx context.Context, eventId, userId string) (Outcome, error) {
	event, err := m.read(ctx, eventId)
	if err != nil {
		return classifyRead(err)
	}
	// Pre-checks run on a snapshot that may already be stale.
	if event.HasBooked(userId) {
		return OutcomeAlreadyBooked, nil
	}
	if len(event.BookedSlots) >= event.TotalSlots {
		return OutcomeEventFull, nil
	}

	err = m.retry(ctx, "add to set", func(ctx context.Context) error {
		return m.store.AddToSet(ctx, eventId, userId)
	})
	if err != nil {
		return classifyWrite(err)
	}

	reconciled, err := m.read(ctx, eventId)
	if err != nil {
		// The write settled but could not be confirmed.
		return OutcomeUnknown, fmt.Errorf("%w: reconcile event %s: %v", ErrOutcomeUnknown, eventId, err)
	}
	if !reconciled.HasBooked(userId) {
		return OutcomeUnknown, fmt.Errorf("%w: user %s missing from event %s after write",
			ErrOutcomeUnknown, userId, eventId)
	}
	if _, err := AvailableSlots(reconciled); err != nil {
		m.log.Warn("best-effort booking overshot capacity",
			"event_id", eventId,
			"user_id", userId,
			"booked", len(reconciled.BookedSlots),
			"total_slots", reconciled.TotalSlots,
		)
		return OutcomeBooked, err
	}
	return OutcomeBooked, nil
}

// CancelSlot removes userId from the event's booked set. Cancelling a slot the
// user does not hold is a no-op reported as NotBooked.
func (m *Manager) CancelSlot(ctx context.Context, eventId, userId string) (Outcome, error) {
	if userId == "" {
		return OutcomeUnauthenticated, ErrUnauthenticated
	}
	if eventId == "" {
		return OutcomeNotFound, ErrEventNotFound
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var (
		outcome Outcome
		err     error
	)
	if m.cfg.Strategy == StrategyBestEffort {
		outcome, err = m.cancelBestEffort(ctx, eventId, userId)
	} else {
		outcome, err = m.cancelTransactional(ctx, eventId, userId)
	}

	m.logResult("cancel slot", eventId, userId, outcome, err)
	return outcome, err
}

func (m *Manager) cancelTransactional(ctx context.Context, eventId, userId string) (Outcome, error) {
	var outcome Outcome
	err := m.retry(ctx, "cancel", func(ctx context.Context) error {
		return m.store.RunTransaction(ctx, eventId, func(current model.Event) (Intent, error) {
			if !current.HasBooked(userId) {
				outcome = OutcomeNotBooked
				return NoWrite(), nil
			}
			outcome = OutcomeCancelled
			return Remove(userId), nil
		})
	})
	if err != nil {
		return classifyWrite(err)
	}
	return outcome, nil
}

func (m *Manager) cancelBestEffort(ctx context.Context, eventId, userId string) (Outcome, error) {
	event, err := m.read(ctx, eventId)
	if err != nil {
		return classifyRead(err)
	}
	if !event.HasBooked(userId) {
		return OutcomeNotBooked, nil
	}
	err = m.retry(ctx, "remove from set", func(ctx context.Context) error {
		return m.store.RemoveFromSet(ctx, eventId, userId)
	})
	if err != nil {
		return classifyWrite(err)
	}
	return OutcomeCancelled, nil
}

// Event reads the authoritative state of one event.
func (m *Manager) Event(ctx context.Context, eventId string) (model.Event, error) {
	if eventId == "" {
		return model.Event{}, ErrEventNotFound
	}
	return m.read(ctx, eventId)
}

// Lookup re-queries whether userId holds a slot. It is the way to resolve an
// Unknown outcome.
func (m *Manager) Lookup(ctx context.Context, eventId, userId string) (model.Booking, error) {
	if userId == "" {
		return model.Booking{}, ErrUnauthenticated
	}
	event, err := m.Event(ctx, eventId)
	if err != nil {
		return model.Booking{}, err
	}
	available, err := AvailableSlots(event)
	return model.Booking{
		EventId:        event.Id,
		UserId:         userId,
		Booked:         event.HasBooked(userId),
		AvailableSlots: available,
	}, err
}

func (m *Manager) CanWatch() bool {
	_, ok := m.store.(Watcher)
	return ok
}

// Watch streams every change to the events collection to fn.
func (m *Manager) Watch(ctx context.Context, fn func(model.Event)) error {
	watcher, ok := m.store.(Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return watcher.Watch(ctx, fn)
}

func (m *Manager) read(ctx context.Context, eventId string) (model.Event, error) {
	var event model.Event
	err := m.retry(ctx, "read", func(ctx context.Context) error {
		var err error
		event, err = m.store.ReadEvent(ctx, eventId)
		return err
	})
	return event, err
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, m.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) logResult(op, eventId, userId string, outcome Outcome, err error) {
	attrs := []any{
		"event_id", eventId,
		"user_id", userId,
		"outcome", outcome.String(),
	}
	if err != nil {
		m.log.Warn(op+" failed", append(attrs, "error", err)...)
		return
	}
	m.log.Info(op, attrs...)
}

// classifyRead maps a failed read. Nothing was written, so a timeout is a
// plain failure rather than an unknown outcome.
func classifyRead(err error) (Outcome, error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return OutcomeNotFound, err
	case errors.Is(err, ErrUnauthenticated):
		return OutcomeUnauthenticated, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return OutcomeFailed, err
}

// classifyWrite maps a failed write. Once a write may have reached the store
// a timeout means the commit state is unknown.
func classifyWrite(err error) (Outcome, error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return OutcomeNotFound, err
	case errors.Is(err, ErrUnauthenticated):
		return OutcomeUnauthenticated, err
	case errors.Is(err, ErrOutcomeUnknown):
		return OutcomeUnknown, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return OutcomeUnknown, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return OutcomeFailed, err
}
