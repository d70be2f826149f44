package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"slot-booking/model"
	"slot-booking/reservation"
)

const (
	eventsIndexKey = "events"
	// eventNamesKey maps lower-cased event names to event ids.
	eventNamesKey = "event_names"
)

// RedisStore keeps each event as a hash event:{id} holding the descriptive
// fields and a set event:{id}:booked holding the booked user ids.
// Transactions use WATCH on both keys followed by MULTI/EXEC.
type RedisStore struct {
	client      *redis.Client
	maxAttempts int
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(ctx context.Context, client *redis.Client) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis is not available: %w", err)
	}
	return &RedisStore{client: client, maxAttempts: defaultTxAttempts}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func eventKey(eventId string) string {
	return fmt.Sprintf("event:%s", eventId)
}

func bookedKey(eventId string) string {
	return fmt.Sprintf("event:%s:booked", eventId)
}

type redisReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

func readRedisEvent(ctx context.Context, r redisReader, eventId string) (model.Event, error) {
	fields, err := r.HGetAll(ctx, eventKey(eventId)).Result()
	if err != nil {
		return model.Event{}, err
	}
	if len(fields) == 0 {
		return model.Event{}, fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}

	booked, err := r.SMembers(ctx, bookedKey(eventId)).Result()
	if err != nil {
		return model.Event{}, err
	}
	sort.Strings(booked)

	totalSlots, err := strconv.Atoi(fields["total_slots"])
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s has malformed total_slots %q", eventId, fields["total_slots"])
	}
	event := model.Event{
		Id:          eventId,
		Name:        fields["name"],
		TotalSlots:  totalSlots,
		BookedSlots: booked,
	}
	if raw := fields["date"]; raw != "" {
		if event.Date, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return model.Event{}, fmt.Errorf("event %s has malformed date %q", eventId, raw)
		}
	}
	return event, nil
}

func (s *RedisStore) ReadEvent(ctx context.Context, eventId string) (model.Event, error) {
	event, err := readRedisEvent(ctx, s.client, eventId)
	return event, classifyRedis(err)
}

func (s *RedisStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		var abort, execErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := readRedisEvent(ctx, tx, eventId)
			if err != nil {
				if errors.Is(err, reservation.ErrEventNotFound) {
					abort = err
				}
				return err
			}

			intent, err := fn(current)
			if err != nil {
				abort = err
				return err
			}
			if intent.Op == reservation.IntentNone {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				queueIntent(ctx, pipe, eventId, intent)
				pipe.Publish(ctx, eventsChannel, eventId)
				return nil
			})
			execErr = err
			return err
		}, eventKey(eventId), bookedKey(eventId))

		switch {
		case abort != nil:
			return abort
		case errors.Is(err, redis.TxFailedErr):
			continue
		case execErr != nil:
			return classifyRedisExec(eventId, execErr)
		}
		return classifyRedis(err)
	}
	return contentionError(eventId)
}

func (s *RedisStore) AddToSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId, reservation.Add(userId))
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId, reservation.Remove(userId))
}

func (s *RedisStore) updateSet(ctx context.Context, eventId string, intent reservation.Intent) error {
	exists, err := s.client.Exists(ctx, eventKey(eventId)).Result()
	if err != nil {
		return classifyRedis(err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		queueIntent(ctx, pipe, eventId, intent)
		pipe.Publish(ctx, eventsChannel, eventId)
		return nil
	})
	return classifyRedis(err)
}

func queueIntent(ctx context.Context, pipe redis.Pipeliner, eventId string, intent reservation.Intent) {
	switch intent.Op {
	case reservation.IntentAdd:
		pipe.SAdd(ctx, bookedKey(eventId), intent.UserId)
	case reservation.IntentRemove:
		pipe.SRem(ctx, bookedKey(eventId), intent.UserId)
	}
}

func (s *RedisStore) CreateEvent(ctx context.Context, event model.Event) (model.Event, error) {
	event, err := prepareEvent(event)
	if err != nil {
		return model.Event{}, err
	}

	claimed, err := s.client.HSetNX(ctx, eventNamesKey, nameKey(event.Name), event.Id).Result()
	if err != nil {
		return model.Event{}, classifyRedis(err)
	}
	if !claimed {
		return model.Event{}, duplicateNameError(event.Name)
	}

	created, err := s.client.HSetNX(ctx, eventKey(event.Id), "total_slots", event.TotalSlots).Result()
	if err != nil {
		s.client.HDel(ctx, eventNamesKey, nameKey(event.Name))
		return model.Event{}, classifyRedis(err)
	}
	if !created {
		s.client.HDel(ctx, eventNamesKey, nameKey(event.Name))
		return model.Event{}, fmt.Errorf("event %s already exists", event.Id)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, eventKey(event.Id), map[string]interface{}{
			"name": event.Name,
			"date": event.Date.UTC().Format(time.RFC3339Nano),
		})
		if len(event.BookedSlots) > 0 {
			members := make([]interface{}, len(event.BookedSlots))
			for i, userId := range event.BookedSlots {
				members[i] = userId
			}
			pipe.SAdd(ctx, bookedKey(event.Id), members...)
		}
		pipe.SAdd(ctx, eventsIndexKey, event.Id)
		pipe.Publish(ctx, eventsChannel, event.Id)
		return nil
	})
	if err != nil {
		return model.Event{}, classifyRedis(err)
	}
	return event, nil
}

func (s *RedisStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	ids, err := s.client.SMembers(ctx, eventsIndexKey).Result()
	if err != nil {
		return nil, classifyRedis(err)
	}

	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		event, err := readRedisEvent(ctx, s.client, id)
		if errors.Is(err, reservation.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return nil, classifyRedis(err)
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

// Watch subscribes to the events channel, on which every write publishes the
// id of the event it touched, and re-reads each announced event.
func (s *RedisStore) Watch(ctx context.Context, fn func(model.Event)) error {
	sub := s.client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return classifyRedis(err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := s.ReadEvent(ctx, msg.Payload)
			if err != nil {
				continue
			}
			fn(event)
		}
	}
}

// classifyRedisExec maps a failed MULTI/EXEC. Unless the server refused the
// transaction, EXEC may have been applied before the connection failed.
func classifyRedisExec(eventId string, err error) error {
	var replyErr redis.Error
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return err
	case errors.As(err, &replyErr):
		return err
	}
	return fmt.Errorf("%w: exec on event %s: %v", reservation.ErrOutcomeUnknown, eventId, err)
}

func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, reservation.ErrEventNotFound) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) && !errors.Is(err, redis.TxFailedErr) {
		// Error replies from the server will not change on retry.
		return err
	}
	return fmt.Errorf("%w: %v", reservation.ErrTransientStore, err)
}
