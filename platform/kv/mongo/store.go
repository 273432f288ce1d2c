package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/kv"
)

type Config struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"saga"`
}

// entryDocument is one key in the "kv" collection.
type entryDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store implements kv.Store on a mongo collection.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
	logger *zap.Logger
}

// Open connects and pings mongo. The caller owns Close.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, kv.Unavailable("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, kv.Unavailable("connect", err)
	}
	logger.Info("mongo connection established", zap.String("database", cfg.Database))
	return NewStore(client, cfg.Database, logger), nil
}

func NewStore(client *mongo.Client, dbName string, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		col:    client.Database(dbName).Collection("kv"),
		logger: logger,
	}
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	var doc entryDocument
	err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return kv.Entry{}, kv.ErrNotFound
		}
		s.logger.Error("failed to read kv document", zap.Error(err), zap.String("key", key))
		return kv.Entry{}, kv.Unavailable("get", err)
	}
	return kv.Entry{Value: doc.Value, Version: doc.Version}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (int64, error) {
	update := bson.M{
		"$set": bson.M{"value": value, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc entryDocument
	if err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&doc); err != nil {
		s.logger.Error("failed to write kv document", zap.Error(err), zap.String("key", key))
		return 0, kv.Unavailable("set", err)
	}
	return doc.Version, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	if expected == 0 {
		_, err := s.col.InsertOne(ctx, entryDocument{
			Key:       key,
			Value:     value,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return 0, kv.ErrConflict
			}
			s.logger.Error("failed to insert kv document", zap.Error(err), zap.String("key", key))
			return 0, kv.Unavailable("compare-and-set", err)
		}
		return 1, nil
	}

	filter := bson.M{"_id": key, "version": expected}
	update := bson.M{
		"$set": bson.M{"value": value, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc entryDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, kv.ErrConflict
		}
		s.logger.Error("failed to compare-and-set kv document", zap.Error(err), zap.String("key", key))
		return 0, kv.Unavailable("compare-and-set", err)
	}
	return doc.Version, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return kv.Unavailable("ping", err)
	}
	return nil
}

// Client is exposed so shutdown can disconnect it with a deadline.
func (s *Store) Client() *mongo.Client { return s.client }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
