package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slot-booking/model"
	"slot-booking/reservation"
)

const (
	EventsCollection = "events"
	UsersCollection  = "users"
)

// MongoStore keeps events as documents with an embedded booked_slots array.
// Transactions need a replica set or sharded cluster.
type MongoStore struct {
	client *mongo.Client
	events *mongo.Collection
	users  *mongo.Collection
}

func DBInit(ctx context.Context, connString string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(connString)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to the db: %w", err)
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("db is not available: %w", err)
	}

	return client, nil
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client: client,
		events: db.Collection(EventsCollection),
		users:  db.Collection(UsersCollection),
	}
}

// Migrate creates the case-insensitive unique index on event names.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}},
		Options: options.Index().
			SetName("name_unique").
			SetUnique(true).
			SetCollation(&options.Collation{Locale: "en", Strength: 2}),
	})
	if err != nil {
		return fmt.Errorf("create events name index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ReadEvent(ctx context.Context, eventId string) (model.Event, error) {
	var event model.Event
	err := s.events.FindOne(ctx, bson.M{"_id": eventId}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Event{}, fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	if err != nil {
		return model.Event{}, classifyMongo(err)
	}
	return event, nil
}

// RunTransaction reads and updates the event inside a session transaction.
// The driver retries the whole body on TransientTransactionError, which is
// what a write conflict with a concurrent booking produces.
func (s *MongoStore) RunTransaction(ctx context.Context, eventId string, fn reservation.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return classifyMongo(err)
	}
	defer sess.EndSession(ctx)

	var abort error
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		abort = nil

		var current model.Event
		err := s.events.FindOne(sc, bson.M{"_id": eventId}).Decode(&current)
		if errors.Is(err, mongo.ErrNoDocuments) {
			abort = fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
			return nil, abort
		}
		if err != nil {
			return nil, err
		}

		intent, err := fn(current)
		if err != nil {
			abort = err
			return nil, err
		}

		update := mongoUpdate(intent)
		if update == nil {
			return nil, nil
		}
		_, err = s.events.UpdateOne(sc, bson.M{"_id": eventId}, update)
		return nil, err
	})
	if abort != nil {
		return abort
	}
	return classifyMongo(err)
}

func (s *MongoStore) AddToSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId, mongoUpdate(reservation.Add(userId)))
}

func (s *MongoStore) RemoveFromSet(ctx context.Context, eventId, userId string) error {
	return s.updateSet(ctx, eventId, mongoUpdate(reservation.Remove(userId)))
}

func (s *MongoStore) updateSet(ctx context.Context, eventId string, update bson.M) error {
	res, err := s.events.UpdateOne(ctx, bson.M{"_id": eventId}, update)
	if err != nil {
		return classifyMongo(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", reservation.ErrEventNotFound, eventId)
	}
	return nil
}

func (s *MongoStore) CreateEvent(ctx context.Context, event model.Event) (model.Event, error) {
	event, err := prepareEvent(event)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := s.events.InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "name_unique") {
			return model.Event{}, duplicateNameError(event.Name)
		}
		return model.Event{}, classifyMongo(err)
	}
	return event, nil
}

func (s *MongoStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	cur, err := s.events.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, classifyMongo(err)
	}
	events := []model.Event{}
	if err := cur.All(ctx, &events); err != nil {
		return nil, classifyMongo(err)
	}
	return events, nil
}

// Watch follows the events collection change stream.
func (s *MongoStore) Watch(ctx context.Context, fn func(model.Event)) error {
	stream, err := s.events.Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return classifyMongo(err)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var change struct {
			FullDocument *model.Event `bson:"fullDocument"`
		}
		if err := stream.Decode(&change); err != nil {
			return fmt.Errorf("decode change: %w", err)
		}
		if change.FullDocument != nil {
			fn(*change.FullDocument)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classifyMongo(stream.Err())
}

func (s *MongoStore) GetUserData(ctx context.Context, login string) (model.UserData, error) {
	return s.findUser(ctx, bson.M{"login": login})
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (model.UserData, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) CreateUser(ctx context.Context, user model.UserData) (model.UserData, error) {
	user = prepareUser(user)
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return model.UserData{}, fmt.Errorf("insert user %s: %w", user.Login, err)
	}
	return user, nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (model.UserData, error) {
	var user model.UserData
	err := s.users.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.UserData{}, ErrUserNotFound
	}
	if err != nil {
		return model.UserData{}, fmt.Errorf("server side problem occured while reading user data from database: %w", err)
	}
	return user, nil
}

func mongoUpdate(intent reservation.Intent) bson.M {
	switch intent.Op {
	case reservation.IntentAdd:
		return bson.M{"$addToSet": bson.M{"booked_slots": intent.UserId}}
	case reservation.IntentRemove:
		return bson.M{"$pull": bson.M{"booked_slots": intent.UserId}}
	}
	return nil
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.HasErrorLabel("UnknownTransactionCommitResult"):
			return fmt.Errorf("%w: %v", reservation.ErrOutcomeUnknown, err)
		case serverErr.HasErrorLabel("TransientTransactionError"):
			return fmt.Errorf("%w: %v", reservation.ErrTransientStore, err)
		}
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", reservation.ErrTransientStore, err)
	}
	return err
}
