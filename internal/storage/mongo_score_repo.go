package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB score repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. cubestack
	Collection string // e.g. scores
}

// MongoScoreRepo implements ScoreRepo on MongoDB backend.
type MongoScoreRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

type scoreDoc struct {
	Name      string    `bson:"_id"`
	Value     int       `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoScoreRepo establishes connection and returns repository.
func NewMongoScoreRepo(ctx context.Context, cfg MongoConfig) (*MongoScoreRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "cubestack"
	}
	if cfg.Collection == "" {
		cfg.Collection = "scores"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoScoreRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}, nil
}

func (m *MongoScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	doc := scoreDoc{Name: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapErr("mongo", "save", key, err)
	}
	return nil
}

func (m *MongoScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc scoreDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("mongo", "load", key, err)
	}
	return doc.Value, true, nil
}

func (m *MongoScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return wrapErr("mongo", "delete", key, err)
	}
	return nil
}

func (m *MongoScoreRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
