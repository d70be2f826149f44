package reservation_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot-booking/database"
	"slot-booking/model"
	"slot-booking/reservation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(strategy reservation.Strategy) reservation.Config {
	return reservation.Config{
		Strategy: strategy,
		Retry:    reservation.RetryConfig{Attempts: 3, Delay: time.Millisecond, Backoff: 2},
		Timeout:  5 * time.Second,
	}
}

func newEvent(t *testing.T, store *database.MemoryStore, totalSlots int, booked ...string) model.Event {
	t.Helper()
	event, err := store.CreateEvent(context.Background(), model.Event{
		Name:        "Go meetup",
		Date:        time.Date(2026, 11, 20, 18, 0, 0, 0, time.UTC),
		TotalSlots:  totalSlots,
		BookedSlots: booked,
	})
	require.NoError(t, err)
	return event
}

func strategies() []reservation.Strategy {
	return []reservation.Strategy{reservation.StrategyTransactional, reservation.StrategyBestEffort}
}

func TestBookSlot(t *testing.T) {
	for _, strategy := range strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			store := database.NewMemoryStore()
			manager := reservation.NewManager(store, testConfig(strategy), discardLogger())
			event := newEvent(t, store, 2)

			outcome, err := manager.BookSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeBooked, outcome)

			outcome, err = manager.BookSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeAlreadyBooked, outcome)

			outcome, err = manager.BookSlot(ctx, event.Id, "bob")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeBooked, outcome)

			before, err := manager.Event(ctx, event.Id)
			require.NoError(t, err)

			outcome, err = manager.BookSlot(ctx, event.Id, "carol")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeEventFull, outcome)

			after, err := manager.Event(ctx, event.Id)
			require.NoError(t, err)
			assert.ElementsMatch(t, before.BookedSlots, after.BookedSlots)
			assert.ElementsMatch(t, []string{"alice", "bob"}, after.BookedSlots)

			available, err := reservation.AvailableSlots(after)
			require.NoError(t, err)
			assert.Equal(t, 0, available)
		})
	}
}

func TestBookSlotZeroCapacity(t *testing.T) {
	store := database.NewMemoryStore()
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())
	event := newEvent(t, store, 0)

	outcome, err := manager.BookSlot(context.Background(), event.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, reservation.OutcomeEventFull, outcome)
}

func TestBookSlotRejectsBadInput(t *testing.T) {
	for _, strategy := range strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			store := database.NewMemoryStore()
			manager := reservation.NewManager(store, testConfig(strategy), discardLogger())
			event := newEvent(t, store, 1)

			outcome, err := manager.BookSlot(ctx, event.Id, "")
			assert.ErrorIs(t, err, reservation.ErrUnauthenticated)
			assert.Equal(t, reservation.OutcomeUnauthenticated, outcome)

			outcome, err = manager.BookSlot(ctx, "missing", "alice")
			assert.ErrorIs(t, err, reservation.ErrEventNotFound)
			assert.Equal(t, reservation.OutcomeNotFound, outcome)

			outcome, err = manager.BookSlot(ctx, "", "alice")
			assert.ErrorIs(t, err, reservation.ErrEventNotFound)
			assert.Equal(t, reservation.OutcomeNotFound, outcome)

			outcome, err = manager.CancelSlot(ctx, "missing", "alice")
			assert.ErrorIs(t, err, reservation.ErrEventNotFound)
			assert.Equal(t, reservation.OutcomeNotFound, outcome)

			current, err := manager.Event(ctx, event.Id)
			require.NoError(t, err)
			assert.Empty(t, current.BookedSlots)
		})
	}
}

func TestCancelSlot(t *testing.T) {
	for _, strategy := range strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			store := database.NewMemoryStore()
			manager := reservation.NewManager(store, testConfig(strategy), discardLogger())
			event := newEvent(t, store, 1, "alice")

			outcome, err := manager.BookSlot(ctx, event.Id, "bob")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeEventFull, outcome)

			outcome, err = manager.CancelSlot(ctx, event.Id, "bob")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeNotBooked, outcome)

			outcome, err = manager.CancelSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeCancelled, outcome)

			outcome, err = manager.BookSlot(ctx, event.Id, "bob")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeBooked, outcome)

			booking, err := manager.Lookup(ctx, event.Id, "alice")
			require.NoError(t, err)
			assert.False(t, booking.Booked)

			booking, err = manager.Lookup(ctx, event.Id, "bob")
			require.NoError(t, err)
			assert.True(t, booking.Booked)
			assert.Equal(t, 0, booking.AvailableSlots)
		})
	}
}

func TestCancelThenRebookSameUser(t *testing.T) {
	for _, strategy := range strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := context.Background()
			store := database.NewMemoryStore()
			manager := reservation.NewManager(store, testConfig(strategy), discardLogger())
			event := newEvent(t, store, 3, "bob")

			outcome, err := manager.BookSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			require.Equal(t, reservation.OutcomeBooked, outcome)

			booked, err := manager.Event(ctx, event.Id)
			require.NoError(t, err)
			availableBefore, err := reservation.AvailableSlots(booked)
			require.NoError(t, err)

			outcome, err = manager.CancelSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			require.Equal(t, reservation.OutcomeCancelled, outcome)

			outcome, err = manager.BookSlot(ctx, event.Id, "alice")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeBooked, outcome)

			current, err := manager.Event(ctx, event.Id)
			require.NoError(t, err)
			count := 0
			for _, userId := range current.BookedSlots {
				if userId == "alice" {
					count++
				}
			}
			assert.Equal(t, 1, count)
			assert.ElementsMatch(t, []string{"bob", "alice"}, current.BookedSlots)

			available, err := reservation.AvailableSlots(current)
			require.NoError(t, err)
			assert.Equal(t, availableBefore, available)
		})
	}
}

func TestBookSlotLastSlotRace(t *testing.T) {
	store := database.NewMemoryStore()
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())
	event := newEvent(t, store, 1)

	outcomes := make([]reservation.Outcome, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			outcome, err := manager.BookSlot(context.Background(), event.Id, user)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i, user)
	}
	wg.Wait()

	assert.ElementsMatch(t, []reservation.Outcome{reservation.OutcomeBooked, reservation.OutcomeEventFull}, outcomes)

	current, err := manager.Event(context.Background(), event.Id)
	require.NoError(t, err)
	assert.Len(t, current.BookedSlots, 1)
}

func TestBookSlotConcurrentNeverOversells(t *testing.T) {
	const (
		totalSlots = 10
		users      = 50
	)
	store := database.NewMemoryStore()
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())
	event := newEvent(t, store, totalSlots)

	var booked, full atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			outcome, err := manager.BookSlot(context.Background(), event.Id, user)
			assert.NoError(t, err)
			switch outcome {
			case reservation.OutcomeBooked:
				booked.Add(1)
			case reservation.OutcomeEventFull:
				full.Add(1)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	assert.EqualValues(t, totalSlots, booked.Load())
	assert.EqualValues(t, users-totalSlots, full.Load())

	current, err := manager.Event(context.Background(), event.Id)
	require.NoError(t, err)
	assert.Len(t, current.BookedSlots, totalSlots)
}

// barrierStore holds the first n reads until all of them arrived, so that
// every caller pre-checks the same snapshot.
type barrierStore struct {
	*database.MemoryStore
	n     int32
	reads atomic.Int32
	wg    sync.WaitGroup
}

func newBarrierStore(store *database.MemoryStore, n int) *barrierStore {
	b := &barrierStore{MemoryStore: store, n: int32(n)}
	b.wg.Add(n)
	return b
}

func (b *barrierStore) ReadEvent(ctx context.Context, eventId string) (model.Event, error) {
	event, err := b.MemoryStore.ReadEvent(ctx, eventId)
	if b.reads.Add(1) <= b.n {
		b.wg.Done()
		b.wg.Wait()
	}
	return event, err
}

func TestBestEffortOvershootIsReported(t *testing.T) {
	memory := database.NewMemoryStore()
	event := newEvent(t, memory, 1)
	store := newBarrierStore(memory, 2)
	manager := reservation.NewManager(store, testConfig(reservation.StrategyBestEffort), discardLogger())

	type result struct {
		outcome reservation.Outcome
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			outcome, err := manager.BookSlot(context.Background(), event.Id, user)
			results[i] = result{outcome, err}
		}(i, user)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, reservation.OutcomeBooked, r.outcome)
		assert.ErrorIs(t, r.err, reservation.ErrCapacityExceeded)
	}

	current, err := memory.ReadEvent(context.Background(), event.Id)
	require.NoError(t, err)
	assert.Len(t, current.BookedSlots, 2)

	available, err := reservation.AvailableSlots(current)
	assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
	assert.Equal(t, -1, available)
}

// flakyStore fails the first failures calls of every write with err.
type flakyStore struct {
	*database.MemoryStore
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyStore) fail() error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.RunTransaction(ctx, eventId, fn)
}

func (f *flakyStore) AddToSet(ctx context.Context, eventId, userId string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.AddToSet(ctx, eventId, userId)
}

func TestBookSlotRetriesTransientErrors(t *testing.T) {
	transient := fmt.Errorf("%w: connection reset", reservation.ErrTransientStore)

	for _, strategy := range strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			memory := database.NewMemoryStore()
			event := newEvent(t, memory, 1)
			store := &flakyStore{MemoryStore: memory, failures: 2, err: transient}
			manager := reservation.NewManager(store, testConfig(strategy), discardLogger())

			outcome, err := manager.BookSlot(context.Background(), event.Id, "alice")
			require.NoError(t, err)
			assert.Equal(t, reservation.OutcomeBooked, outcome)
			assert.EqualValues(t, 3, store.calls.Load())
		})
	}
}

func TestBookSlotGivesUpAfterRetries(t *testing.T) {
	transient := fmt.Errorf("%w: connection reset", reservation.ErrTransientStore)
	memory := database.NewMemoryStore()
	event := newEvent(t, memory, 1)
	store := &flakyStore{MemoryStore: memory, failures: 10, err: transient}
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())

	outcome, err := manager.BookSlot(context.Background(), event.Id, "alice")
	assert.Equal(t, reservation.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, reservation.ErrTransientStore)
	assert.EqualValues(t, 3, store.calls.Load())

	current, err := memory.ReadEvent(context.Background(), event.Id)
	require.NoError(t, err)
	assert.Empty(t, current.BookedSlots)
}

func TestBookSlotAmbiguousCommit(t *testing.T) {
	memory := database.NewMemoryStore()
	event := newEvent(t, memory, 1)
	store := &flakyStore{MemoryStore: memory, failures: 1, err: reservation.ErrOutcomeUnknown}
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())

	outcome, err := manager.BookSlot(context.Background(), event.Id, "alice")
	assert.Equal(t, reservation.OutcomeUnknown, outcome)
	assert.ErrorIs(t, err, reservation.ErrOutcomeUnknown)
	assert.EqualValues(t, 1, store.calls.Load())
}

// stallingStore never answers a transaction before ctx is done.
type stallingStore struct {
	*database.MemoryStore
}

func (s stallingStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBookSlotTimeoutIsUnknown(t *testing.T) {
	memory := database.NewMemoryStore()
	event := newEvent(t, memory, 1)
	cfg := testConfig(reservation.StrategyTransactional)
	cfg.Timeout = 20 * time.Millisecond
	manager := reservation.NewManager(stallingStore{memory}, cfg, discardLogger())

	outcome, err := manager.BookSlot(context.Background(), event.Id, "alice")
	assert.Equal(t, reservation.OutcomeUnknown, outcome)
	assert.ErrorIs(t, err, reservation.ErrOutcomeUnknown)
}

func TestAvailableSlots(t *testing.T) {
	available, err := reservation.AvailableSlots(model.Event{TotalSlots: 3, BookedSlots: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, available)

	available, err = reservation.AvailableSlots(model.Event{TotalSlots: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, available)

	available, err = reservation.AvailableSlots(model.Event{Id: "e1", TotalSlots: 1, BookedSlots: []string{"a", "b", "c"}})
	assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
	assert.Equal(t, -2, available)
}

func TestWatch(t *testing.T) {
	store := database.NewMemoryStore()
	manager := reservation.NewManager(store, testConfig(reservation.StrategyTransactional), discardLogger())
	event := newEvent(t, store, 2)
	require.True(t, manager.CanWatch())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan model.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- manager.Watch(ctx, func(e model.Event) {
			select {
			case changes <- e:
			default:
			}
		})
	}()

	// the subscription may not be registered yet, keep booking until it is
	users := []string{"alice", "bob"}
	var change model.Event
	for i := 0; ; i++ {
		require.Less(t, i, len(users), "no change delivered")
		_, err := manager.BookSlot(ctx, event.Id, users[i])
		require.NoError(t, err)
		select {
		case change = <-changes:
		case <-time.After(100 * time.Millisecond):
			continue
		}
		break
	}
	assert.Equal(t, event.Id, change.Id)
	assert.NotEmpty(t, change.BookedSlots)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type plainStore struct{ reservation.Store }

func TestWatchUnsupported(t *testing.T) {
	manager := reservation.NewManager(plainStore{database.NewMemoryStore()}, testConfig(reservation.StrategyTransactional), discardLogger())
	assert.False(t, manager.CanWatch())
	assert.ErrorIs(t, manager.Watch(context.Background(), func(model.Event) {}), reservation.ErrWatchUnsupported)
}
