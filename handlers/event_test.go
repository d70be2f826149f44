package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot-booking/database"
	"slot-booking/reservation"
)

func TestGetEvents(t *testing.T) {
	env := newTestEnv(t, reservation.StrategyTransactional)
	event := env.createEvent(t, 3, "someone")

	tests := []Test{
		{
			description:  "list events",
			route:        "/events",
			expectedCode: 200,
			expectedBody: `"available_slots":2`,
		},
		{
			description:  "get event",
			route:        "/events/" + event.Id,
			expectedCode: 200,
			expectedBody: `"booked_slots":["someone"]`,
		},
		{
			description:  "get missing event",
			route:        "/events/missing",
			expectedCode: 404,
		}}

	runTests(t, env.app, tests)
}

func TestGetEventReportsOverbooking(t *testing.T) {
	env := newTestEnv(t, reservation.StrategyTransactional)
	event := env.createEvent(t, 1, "a", "b")

	res := do(t, env.app, Test{route: "/events/" + event.Id})
	require.Equal(t, 200, res.code)

	var view struct {
		AvailableSlots int    `json:"available_slots"`
		IntegrityError string `json:"integrity_error"`
	}
	require.NoError(t, json.Unmarshal(decode(t, res.body).Data, &view))
	assert.Equal(t, -1, view.AvailableSlots)
	assert.Contains(t, view.IntegrityError, reservation.ErrCapacityExceeded.Error())
}

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t, reservation.StrategyTransactional)
	env.createEvent(t, 1)
	admin := tokenFor(t, env.admin)

	body := func(name, date string, slots string) []byte {
		return []byte(fmt.Sprintf(`{"name":%q,"date":%q%s}`, name, date, slots))
	}

	tests := []Test{
		{
			description:  "anonymous",
			method:       http.MethodPost,
			route:        "/events",
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", `,"total_slots":5`),
			expectedCode: 401,
		},
		{
			description:  "not an admin",
			method:       http.MethodPost,
			route:        "/events",
			token:        tokenFor(t, env.user),
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", `,"total_slots":5`),
			expectedCode: 403,
		},
		{
			description:  "invalid token",
			method:       http.MethodPost,
			route:        "/events",
			token:        "garbage",
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", `,"total_slots":5`),
			expectedCode: 401,
		},
		{
			description:  "duplicate name",
			method:       http.MethodPost,
			route:        "/events",
			token:        admin,
			bodyinput:    body("gophercon", "2026-12-01T10:00:00Z", `,"total_slots":5`),
			expectedCode: 400,
		},
		{
			description:  "negative capacity",
			method:       http.MethodPost,
			route:        "/events",
			token:        admin,
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", `,"total_slots":-1`),
			expectedCode: 400,
		},
		{
			description:  "missing capacity",
			method:       http.MethodPost,
			route:        "/events",
			token:        admin,
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", ""),
			expectedCode: 400,
		},
		{
			description:  "bad date",
			method:       http.MethodPost,
			route:        "/events",
			token:        admin,
			bodyinput:    body("Workshop", "tomorrow", `,"total_slots":5`),
			expectedCode: 400,
		},
		{
			description:  "create event",
			method:       http.MethodPost,
			route:        "/events",
			token:        admin,
			bodyinput:    body("Workshop", "2026-12-01T10:00:00Z", `,"total_slots":0`),
			expectedCode: 201,
			expectedBody: `"booked_slots":[]`,
		}}

	runTests(t, env.app, tests)

	events, err := env.store.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCreateEventConcurrentSameName(t *testing.T) {
	env := newTestEnv(t, reservation.StrategyTransactional)
	admin := tokenFor(t, env.admin)
	body := []byte(`{"name":"Workshop","date":"2026-12-01T10:00:00Z","total_slots":5}`)

	const requests = 5
	codes := make(chan int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, "/events", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+admin)
			res, err := env.app.Test(req, -1)
			if !assert.NoError(t, err) {
				return
			}
			codes <- res.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	created := 0
	for code := range codes {
		if code == 201 {
			created++
			continue
		}
		assert.Equal(t, 400, code)
	}
	assert.Equal(t, 1, created)

	events, err := env.store.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

type nonWatchingStore struct{ reservation.Store }

func TestStreamEventsUnsupported(t *testing.T) {
	env := newTestEnvWith(t, reservation.StrategyTransactional, func(s *database.MemoryStore) reservation.Store {
		return nonWatchingStore{s}
	}, 0)

	runTests(t, env.app, []Test{{
		description:  "stream without watch support",
		route:        "/events/stream",
		expectedCode: 501,
	}})
}
