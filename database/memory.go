package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"slot-booking/model"
	"slot-booking/reservation"
)

type memoryRecord struct {
	event   model.Event
	version uint64
}

// ErrWatcherTooSlow ends a watch whose callback fell behind the writers.
var ErrWatcherTooSlow = errors.New("watcher fell behind the change feed")

const watchBuffer = 16

type memorySubscriber struct {
	ch      chan model.Event
	evicted chan struct{}
}

// MemoryStore keeps events in process with per-document versions. Its
// transactions are optimistic: the body runs without holding the lock and the
// commit is rejected when the version moved, after which the body runs again.
type MemoryStore struct {
	mu          sync.Mutex
	events      map[string]*memoryRecord
	users       map[string]model.UserData
	subscribers map[int]memorySubscriber
	nextSub     int
	path        string
	maxAttempts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      map[string]*memoryRecord{},
		users:       map[string]model.UserData{},
		subscribers: map[int]memorySubscriber{},
		maxAttempts: defaultTxAttempts,
	}
}

// OpenLocalStore returns a memory store seeded from and persisted to the
// local JSON database at path.
func OpenLocalStore(path string) (*MemoryStore, error) {
	db, err := ReadLocalDB(path)
	if err != nil {
		return nil, fmt.Errorf("read local db %s: %w", path, err)
	}

	s := NewMemoryStore()
	for _, event := range db.Events {
		event, err := prepareEvent(event)
		if err != nil {
			return nil, err
		}
		s.events[event.Id] = &memoryRecord{event: event}
	}
	for _, user := range db.Users {
		user = prepareUser(user)
		s.users[user.Id] = user
	}
	s.path = path
	return s, nil
}

func (s *MemoryStore) ReadEvent(ctx context.Context, eventId string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	event, _, err := s.snapshot(eventId)
	return event, err
}

func (s *MemoryStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, version, err := s.snapshot(eventId)
		if err != nil {
			return err
		}

		intent, err := fn(current)
		if err != nil {
			return err
		}
		if intent.Op == reservation.IntentNone {
			return nil
		}

		next, committed, err := s.commit(eventId, true, version, intent)
		if err != nil {
			return err
		}
		if committed {
			s.publish(next)
			return nil
		}
	}
	return contentionError(eventId)
}

func (s *MemoryStore) AddToSet(ctx context.Context, eventId, userId string) error {
	return s.update(ctx, eventId, reservation.Add(userId))
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, eventId, userId string) error {
	return s.update(ctx, eventId, reservation.Remove(userId))
}

func (s *MemoryStore) update(ctx context.Context, eventId string, intent reservation.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next, _, err := s.commit(eventId, false, 0, intent)
	if err != nil {
		return err
	}
	s.publish(next)
	return nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, event model.Event) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	event, err := prepareEvent(event)
	if err != nil {
		return model.Event{}, err
	}

	s.mu.Lock()
	if _, exists := s.events[event.Id]; exists {
		s.mu.Unlock()
		return model.Event{}, fmt.Errorf("event %s already exists", event.Id)
	}
	for _, rec := range s.events {
		if nameKey(rec.event.Name) == nameKey(event.Name) {
			s.mu.Unlock()
			return model.Event{}, duplicateNameError(event.Name)
		}
	}
	s.events[event.Id] = &memoryRecord{event: event.Clone()}
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, err
	}

	s.publish(event)
	return event, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsLocked(), nil
}

// Watch delivers every committed change until ctx is done. Writers never
// wait for fn: a watcher whose buffer is full is dropped and Watch returns
// ErrWatcherTooSlow.
func (s *MemoryStore) Watch(ctx context.Context, fn func(model.Event)) error {
	sub := memorySubscriber{ch: make(chan model.Event, watchBuffer), evicted: make(chan struct{})}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.evicted:
			return ErrWatcherTooSlow
		case event := <-sub.ch:
			fn(event)
		}
	}
}

func (s *MemoryStore) GetUserData(ctx context.Context, login string) (model.UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Login == login {
			return user, nil
		}
	}
	return model.UserData{}, fmt.Errorf("%w: login %s", ErrUserNotFound, login)
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (model.UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return model.UserData{}, fmt.Errorf("%w: id %s", ErrUserNotFound, id)
	}
	return user, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user model.UserData) (model.UserData, error) {
	user = prepareUser(user)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Login == user.Login {
			return model.UserData{}, fmt.Errorf("login %s already exists", user.Login)
		}
	}
	s.users[user.Id] = user
	return user, s.persistLocked()
}

func (s *MemoryStore) snapshot(eventId string) (model.Event, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventId]
	if !ok {
		return model.Event{}, 0, fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	return rec.event.Clone(), rec.version, nil
}

// commit applies intent when the record is still at version, or
// unconditionally when conditional is false. Every write bumps the version so
// that pending transactions notice it.
func (s *MemoryStore) commit(eventId string, conditional bool, version uint64, intent reservation.Intent) (model.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventId]
	if !ok {
		return model.Event{}, false, fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	if conditional && rec.version != version {
		return model.Event{}, false, nil
	}

	prev := rec.event
	rec.event = applyIntent(rec.event, intent)
	rec.version++
	if err := s.persistLocked(); err != nil {
		rec.event = prev
		rec.version--
		return model.Event{}, false, fmt.Errorf("persist local db: %w", err)
	}
	return rec.event.Clone(), true, nil
}

func (s *MemoryStore) publish(event model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subscribers {
		select {
		case sub.ch <- event.Clone():
		default:
			delete(s.subscribers, id)
			close(sub.evicted)
		}
	}
}

func (s *MemoryStore) eventsLocked() []model.Event {
	events := make([]model.Event, 0, len(s.events))
	for _, rec := range s.events {
		events = append(events, rec.event.Clone())
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date.Equal(events[j].Date) {
			return events[i].Id < events[j].Id
		}
		return events[i].Date.Before(events[j].Date)
	})
	return events
}

func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	users := make([]model.UserData, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })
	return CommitToLocalDB(s.path, LocalDB{Events: s.eventsLocked(), Users: users})
}
