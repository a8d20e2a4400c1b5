// Package mongostore adapts ports.Storage onto MongoDB, grounded on
// internal/outbox/repository_mongo.go's collection layout (documents keyed
// by status, find/updateMany for bulk transitions) and
// internal/platform/common/mongo_unit_of_work.go's session.WithTransaction
// idiom for NewUnitOfWork.
//
// Unlike the teacher's MongoRepository, which relies on a single active
// poller (enforced upstream by leader election) and therefore claims work
// with a plain UpdateMany, MarkProcessing here uses FindOneAndUpdate with a
// status-equality filter so the Pending->Processing transition stays atomic
// even if a caller runs it without leader election in front.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"

	"github.com/heromessaging/hero-messaging/ports"
)

// document is the on-disk shape of a ports.Entry.
type document struct {
	ID            string         `bson:"_id"`
	Message       bson.Raw       `bson:"message"`
	Options       entryOptionsDoc `bson:"options"`
	Status        int            `bson:"status"`
	AttemptCount  int            `bson:"attemptCount"`
	CreatedAt     time.Time      `bson:"createdAt"`
	LastAttemptAt time.Time      `bson:"lastAttemptAt"`
	NextAttemptAt time.Time      `bson:"nextAttemptAt"`
	ErrorText     string         `bson:"errorText,omitempty"`
	Fingerprint   string         `bson:"fingerprint,omitempty"`
}

type entryOptionsDoc struct {
	MaxAttempts         int           `bson:"maxAttempts"`
	Delay               time.Duration `bson:"delay"`
	Destination         string        `bson:"destination"`
	RequireIdempotency  bool          `bson:"requireIdempotency"`
	DeduplicationWindow time.Duration `bson:"deduplicationWindow"`
}

// Store implements ports.Storage against a single MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	idGen      func() string
}

// New builds a Store over the named collection. idGen generates entry IDs
// (callers typically pass a TSID/ULID generator); it must never collide.
func New(client *mongo.Client, db *mongo.Database, collectionName string, idGen func() string) *Store {
	return &Store{client: client, collection: db.Collection(collectionName), idGen: idGen}
}

var _ ports.Storage = (*Store)(nil)

// CreateIndexes creates the indexes the claim and cleanup queries rely on,
// mirroring the teacher's CreateSchema step.
func (s *Store) CreateIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("idx_pending").
				SetPartialFilterExpression(bson.M{"status": int(ports.StatusPending)}),
		},
		{
			Keys:    bson.D{{Key: "fingerprint", Value: 1}},
			Options: options.Index().SetName("idx_fingerprint").SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, message any, opts ports.EntryOptions) (*ports.Entry, error) {
	raw, err := bson.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("mongostore: marshal message: %w", err)
	}

	entry := &ports.Entry{
		ID:        s.idGen(),
		Message:   message,
		Options:   opts,
		Status:    ports.StatusPending,
		CreatedAt: time.Now(),
	}

	doc := toDocument(entry, raw)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongostore: insert: %w", err)
	}
	return entry, nil
}

func (s *Store) GetUnprocessed(ctx context.Context, batchSize int) ([]*ports.Entry, error) {
	filter := bson.M{
		"status":        int(ports.StatusPending),
		"nextAttemptAt": bson.M{"$lte": time.Now()},
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(batchSize))

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: find unprocessed: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ports.Entry
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode: %w", err)
		}
		entries = append(entries, fromDocument(&doc))
	}
	return entries, cursor.Err()
}

func (s *Store) MarkProcessing(ctx context.Context, id string) (bool, error) {
	filter := bson.M{"_id": id, "status": int(ports.StatusPending)}
	update := bson.M{"$set": bson.M{"status": int(ports.StatusProcessing), "lastAttemptAt": time.Now()}}

	result := s.collection.FindOneAndUpdate(ctx, filter, update)
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		return false, fmt.Errorf("mongostore: mark processing: %w", err)
	}
	return true, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	update := bson.M{"$set": bson.M{"status": int(ports.StatusProcessed)}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongostore: mark processed: %w", err)
	}
	return nil
}

// statusForFailedAttempt mirrors the reference mockStorage.MarkFailed
// contract: a zero nextAttemptAt means the caller has given up retrying (no
// next attempt scheduled), so the entry is terminally Failed; otherwise it
// goes back to Pending so GetUnprocessed picks it up again at nextAttemptAt.
func statusForFailedAttempt(nextAttemptAt time.Time) int {
	if nextAttemptAt.IsZero() {
		return int(ports.StatusFailed)
	}
	return int(ports.StatusPending)
}

func (s *Store) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, errorText string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        statusForFailedAttempt(nextAttemptAt),
			"nextAttemptAt": nextAttemptAt,
			"errorText":     errorText,
		},
		"$inc": bson.M{"attemptCount": 1},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongostore: mark failed: %w", err)
	}
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	filter := bson.M{
		"fingerprint": fingerprint,
		"createdAt":   bson.M{"$gte": time.Now().Add(-window)},
	}
	count, err := s.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongostore: count duplicates: %w", err)
	}
	return count > 0, nil
}

func (s *Store) CleanupOldEntries(ctx context.Context, olderThan time.Duration) (int, error) {
	filter := bson.M{
		"status":    bson.M{"$in": []int{int(ports.StatusProcessed), int(ports.StatusDuplicate)}},
		"createdAt": bson.M{"$lt": time.Now().Add(-olderThan)},
	}
	result, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongostore: cleanup: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (s *Store) NewUnitOfWork(ctx context.Context, level ports.IsolationLevel) (ports.UnitOfWork, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongostore: start session: %w", err)
	}
	if err := session.StartTransaction(transactionOptionsFor(level)); err != nil {
		session.EndSession(ctx)
		return nil, fmt.Errorf("mongostore: start transaction: %w", err)
	}
	return &unitOfWork{session: session}, nil
}

func transactionOptionsFor(level ports.IsolationLevel) *options.TransactionOptions {
	switch level {
	case ports.IsolationSerializable, ports.IsolationRepeatableRead:
		return options.Transaction().SetReadConcern(readconcern.Snapshot())
	default:
		return options.Transaction().SetReadConcern(readconcern.Majority())
	}
}

type unitOfWork struct {
	session mongo.Session
	ended   bool
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	defer u.endSession(ctx)
	if err := u.session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("mongostore: commit: %w", err)
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	defer u.endSession(ctx)
	if err := u.session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("mongostore: rollback: %w", err)
	}
	return nil
}

// Release is the idempotent "ensure-ended" cleanup TransactionDecorator
// defers on every exit path, including a panicking handler that never
// reaches Commit or Rollback. Safe to call after either of those already
// ended the session.
func (u *unitOfWork) Release(ctx context.Context) error {
	u.endSession(ctx)
	return nil
}

func (u *unitOfWork) endSession(ctx context.Context) {
	if u.ended {
		return
	}
	u.ended = true
	u.session.EndSession(ctx)
}

func toDocument(e *ports.Entry, raw bson.Raw) *document {
	return &document{
		ID:      e.ID,
		Message: raw,
		Options: entryOptionsDoc{
			MaxAttempts:         e.Options.MaxAttempts,
			Delay:               e.Options.Delay,
			Destination:         e.Options.Destination,
			RequireIdempotency:  e.Options.RequireIdempotency,
			DeduplicationWindow: e.Options.DeduplicationWindow,
		},
		Status:        int(e.Status),
		AttemptCount:  e.AttemptCount,
		CreatedAt:     e.CreatedAt,
		LastAttemptAt: e.LastAttemptAt,
		NextAttemptAt: e.NextAttemptAt,
		ErrorText:     e.ErrorText,
	}
}

func fromDocument(d *document) *ports.Entry {
	var message any
	_ = bson.Unmarshal(d.Message, &message)
	return &ports.Entry{
		ID:      d.ID,
		Message: message,
		Options: ports.EntryOptions{
			MaxAttempts:         d.Options.MaxAttempts,
			Delay:               d.Options.Delay,
			Destination:         d.Options.Destination,
			RequireIdempotency:  d.Options.RequireIdempotency,
			DeduplicationWindow: d.Options.DeduplicationWindow,
		},
		Status:        ports.EntryStatus(d.Status),
		AttemptCount:  d.AttemptCount,
		CreatedAt:     d.CreatedAt,
		LastAttemptAt: d.LastAttemptAt,
		NextAttemptAt: d.NextAttemptAt,
		ErrorText:     d.ErrorText,
	}
}
