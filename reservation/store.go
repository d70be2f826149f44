package reservation

import (
	"context"

	"slot-booking/model"
)

type IntentOp int

const (
	IntentNone IntentOp = iota
	IntentAdd
	IntentRemove
)

// Intent is the single write a transaction body asks the store to commit.
type Intent struct {
	Op     IntentOp
	UserId string
}

func NoWrite() Intent { return Intent{Op: IntentNone} }

func Add(userId string) Intent { return Intent{Op: IntentAdd, UserId: userId} }

func Remove(userId string) Intent { return Intent{Op: IntentRemove, UserId: userId} }

// TxFunc inspects the current event and returns the write to commit. It may
// run several times when the store retries on conflict, so it must not have
// side effects beyond the captured result of its latest run. A non-nil error
// aborts the transaction and is returned unchanged by RunTransaction.
type TxFunc func(current model.Event) (Intent, error)

// Store is the document store capability the manager is built on.
//
// ReadEvent returns ErrEventNotFound for a missing event. RunTransaction
// executes fn as an atomic read-check-write against one event and retries
// internally when the document changed between read and commit. AddToSet and
// RemoveFromSet are unconditional, idempotent set updates applied by the
// store itself.
type Store interface {
	ReadEvent(ctx context.Context, eventId string) (model.Event, error)
	RunTransaction(ctx context.Context, eventId string, fn TxFunc) error
	AddToSet(ctx context.Context, eventId, userId string) error
	RemoveFromSet(ctx context.Context, eventId, userId string) error
}

// Watcher is implemented by stores that can stream event changes. Watch
// blocks until ctx is done or the feed fails.
type Watcher interface {
	Watch(ctx context.Context, fn func(model.Event)) error
}
