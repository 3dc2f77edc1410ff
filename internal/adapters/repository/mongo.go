package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/metrics"
)

// MongoStore persists behavior documents in a MongoDB collection.
// Every merge is a single findOneAndUpdate so concurrent ingests for the
// same key never lose updates.
type MongoStore struct {
	client *mongo.Client // nil when the collection is owned by the caller
	coll   *mongo.Collection
	cfg    settings
}

// NewMongoStore connects to uri, verifies the server answers and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database, collection string, opts ...Option) (*MongoStore, error) {
	cfg := newSettings(opts)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		cfg:    cfg,
	}
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStoreFromCollection wraps an existing collection. Indexes are not created.
func NewMongoStoreFromCollection(coll *mongo.Collection, opts ...Option) *MongoStore {
	return &MongoStore{coll: coll, cfg: newSettings(opts)}
}

// EnsureIndexes creates the unique (website, date) key and the listing index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "website", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("website_date_unique"),
		},
		{
			Keys:    bson.D{{Key: "date", Value: -1}, {Key: "website", Value: 1}},
			Options: options.Index().SetName("date_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func keyFilter(key model.Key) bson.D {
	return bson.D{{Key: "website", Value: key.Website}, {Key: "date", Value: key.Date}}
}

// mergeUpdate builds the update document folding rec into the stored one.
func (s *MongoStore) mergeUpdate(rec model.BehaviorRecord, now time.Time) bson.D {
	moves := rec.MouseMovements
	if moves == nil {
		moves = []model.MouseMovement{}
	}
	push := bson.D{{Key: "$each", Value: moves}}
	if s.cfg.movementCap > 0 {
		push = append(push, bson.E{Key: "$slice", Value: -s.cfg.movementCap})
	}

	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "mouseMovements", Value: push}}},
		{Key: "$inc", Value: bson.D{
			{Key: "clicks", Value: rec.Clicks},
			{Key: "scrollDistance", Value: rec.ScrollDistance},
			{Key: "timeSpent", Value: rec.TimeSpent},
			{Key: "movementCount", Value: int64(len(moves))},
			{Key: "revision", Value: int64(1)},
		}},
		{Key: "$set", Value: bson.D{
			{Key: "scrollSpeed", Value: rec.ScrollSpeed},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "createdAt", Value: now},
			{Key: "stressScore", Value: 0.0},
		}},
	}
	if len(moves) > 0 {
		stats := model.StatsOf(moves)
		update = append(update,
			bson.E{Key: "$min", Value: bson.D{{Key: "movementMinX", Value: stats.MinX}}},
			bson.E{Key: "$max", Value: bson.D{{Key: "movementMaxX", Value: stats.MaxX}}},
		)
	}
	return update
}

// Merge implements Store.Merge.
func (s *MongoStore) Merge(ctx context.Context, rec model.BehaviorRecord) (model.Behavior, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("merge", float64(time.Since(start).Microseconds())/1000)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	update := s.mergeUpdate(rec, s.cfg.now().UTC())
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc model.Behavior
	err := s.coll.FindOneAndUpdate(ctx, keyFilter(rec.Key()), update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two first inserts raced on the unique index; the loser now finds the document.
		err = s.coll.FindOneAndUpdate(ctx, keyFilter(rec.Key()), update, opts).Decode(&doc)
	}
	if err != nil {
		metrics.RecordStoreError("merge")
		return model.Behavior{}, fmt.Errorf("merge %s: %w", rec.Key(), err)
	}
	if doc.MouseMovements == nil {
		doc.MouseMovements = []model.MouseMovement{}
	}
	return doc, nil
}

// SetScore implements Store.SetScore.
func (s *MongoStore) SetScore(ctx context.Context, key model.Key, revision int64, score float64) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("set_score", float64(time.Since(start).Microseconds())/1000)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	filter := append(keyFilter(key), bson.E{Key: "revision", Value: revision})
	res, err := s.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{{Key: "stressScore", Value: score}}}})
	if err != nil {
		metrics.RecordStoreError("set_score")
		return false, fmt.Errorf("set score %s: %w", key, err)
	}
	return res.MatchedCount == 1, nil
}

// Get implements Store.Get.
func (s *MongoStore) Get(ctx context.Context, key model.Key) (model.Behavior, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	var doc model.Behavior
	err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Behavior{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return model.Behavior{}, fmt.Errorf("get %s: %w", key, err)
	}
	return doc, nil
}

// All implements Store.All.
func (s *MongoStore) All(ctx context.Context) ([]model.Behavior, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("find_all", float64(time.Since(start).Microseconds())/1000)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "website", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		metrics.RecordStoreError("find_all")
		return nil, fmt.Errorf("find all: %w", err)
	}
	docs := []model.Behavior{}
	if err := cursor.All(ctx, &docs); err != nil {
		metrics.RecordStoreError("find_all")
		return nil, fmt.Errorf("decode all: %w", err)
	}
	for i := range docs {
		if docs[i].MouseMovements == nil {
			docs[i].MouseMovements = []model.MouseMovement{}
		}
	}
	return docs, nil
}

// Count implements Store.Count.
func (s *MongoStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		metrics.RecordStoreError("count")
		return 0, fmt.Errorf("count: %w", err)
	}
	metrics.UpdateDocumentsTotal(int(n))
	return int(n), nil
}

// Ping implements Store.Ping.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// Close implements Store.Close. A caller-owned collection is left connected.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
