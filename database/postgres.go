package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"slot-booking/model"
	"slot-booking/reservation"
)

const eventsNotifyChannel = "event_changes"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	date         TIMESTAMPTZ NOT NULL,
	total_slots  INTEGER NOT NULL CHECK (total_slots >= 0),
	booked_slots JSONB NOT NULL DEFAULT '[]'::jsonb,
	version      BIGINT NOT NULL DEFAULT 1
)`

const postgresNameIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS events_name_key ON events (lower(name))`

// PostgresStore keeps each event as a row whose booked_slots column is a
// JSON array. Transactions are optimistic: the row is read with its version
// and written back only if the version is unchanged.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewPool creates and validates a pgxpool connection pool, retrying to
// accommodate a database that is still starting up.
func NewPool(ctx context.Context, dsn string, log *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		log.Warn("db connect attempt failed", "attempt", attempt, "max_attempts", 5, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, maxAttempts: defaultTxAttempts}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, postgresNameIndex); err != nil {
		return fmt.Errorf("create events name index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, int64, error) {
	var (
		event   model.Event
		booked  []byte
		version int64
	)
	if err := row.Scan(&event.Id, &event.Name, &event.Date, &event.TotalSlots, &booked, &version); err != nil {
		return model.Event{}, 0, err
	}
	if err := json.Unmarshal(booked, &event.BookedSlots); err != nil {
		return model.Event{}, 0, fmt.Errorf("decode booked slots of event %s: %w", event.Id, err)
	}
	if event.BookedSlots == nil {
		event.BookedSlots = []string{}
	}
	return event, version, nil
}

func (s *PostgresStore) readVersioned(ctx context.Context, eventId string) (model.Event, int64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, date, total_slots, booked_slots, version
		 FROM events WHERE id = $1`,
		eventId,
	)
	event, version, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, 0, fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	if err != nil {
		return model.Event{}, 0, classifyPostgres(err)
	}
	return event, version, nil
}

func (s *PostgresStore) ReadEvent(ctx context.Context, eventId string) (model.Event, error) {
	event, _, err := s.readVersioned(ctx, eventId)
	return event, err
}

func (s *PostgresStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		current, version, err := s.readVersioned(ctx, eventId)
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

		next := applyIntent(current, intent)
		committed, err := s.compareAndSwap(ctx, eventId, version, next.BookedSlots)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return contentionError(eventId)
}

// compareAndSwap writes booked only if the row is still at version.
func (s *PostgresStore) compareAndSwap(ctx context.Context, eventId string, version int64, booked []string) (bool, error) {
	payload, err := json.Marshal(booked)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, classifyPostgres(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx,
		`UPDATE events SET booked_slots = $2::jsonb, version = version + 1
		 WHERE id = $1 AND version = $3`,
		eventId, string(payload), version,
	)
	if err != nil {
		return false, classifyPostgres(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, eventsNotifyChannel, eventId); err != nil {
		return false, classifyPostgres(err)
	}

	if err := tx.Commit(ctx); err != nil {
		// The commit may have reached the server before the failure.
		return false, fmt.Errorf("%w: commit event %s: %v", reservation.ErrOutcomeUnknown, eventId, err)
	}
	return true, nil
}

func (s *PostgresStore) AddToSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId,
		`UPDATE events SET
			booked_slots = CASE WHEN booked_slots ? $2 THEN booked_slots
			                    ELSE booked_slots || jsonb_build_array($2::text) END,
			version = version + 1
		 WHERE id = $1`,
		userId,
	)
}

func (s *PostgresStore) RemoveFromSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId,
		`UPDATE events SET booked_slots = booked_slots - $2::text, version = version + 1
		 WHERE id = $1`,
		userId,
	)
}

func (s *PostgresStore) updateSet(ctx context.Context, eventId, query, userId string) error {
	tag, err := s.pool.Exec(ctx, query, eventId, userId)
	if err != nil {
		return classifyPostgres(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	s.notify(ctx, eventId)
	return nil
}

func (s *PostgresStore) notify(ctx context.Context, eventId string) {
	_, _ = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, eventsNotifyChannel, eventId)
}

func (s *PostgresStore) CreateEvent(ctx context.Context, event model.Event) (model.Event, error) {
	event, err := prepareEvent(event)
	if err != nil {
		return model.Event{}, err
	}
	payload, err := json.Marshal(event.BookedSlots)
	if err != nil {
		return model.Event{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, name, date, total_slots, booked_slots)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		event.Id, event.Name, event.Date, event.TotalSlots, string(payload),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "events_name_key" {
		return model.Event{}, duplicateNameError(event.Name)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", classifyPostgres(err))
	}
	s.notify(ctx, event.Id)
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, date, total_slots, booked_slots, version
		 FROM events
		 ORDER BY date ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", classifyPostgres(err))
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		event, _, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Watch listens on the event_changes channel and re-reads each announced
// event. LISTEN runs on its own connection so that watchers never hold pool
// connections needed by bookings.
func (s *PostgresStore) Watch(ctx context.Context, fn func(model.Event)) error {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig.Copy())
	if err != nil {
		return classifyPostgres(err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+eventsNotifyChannel); err != nil {
		return classifyPostgres(err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return classifyPostgres(err)
		}
		event, err := s.ReadEvent(ctx, n.Payload)
		if err != nil {
			continue
		}
		fn(event)
	}
}

func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", reservation.ErrTransientStore, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", reservation.ErrTransientStore, err)
	}
	return err
}
