// Package mongodb backs the attribute cache spill with a MongoDB collection.
package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type entryDocument struct {
	Mount     string    `bson:"mount"`
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// KV implements drive.KV over one collection.
type KV struct {
	client     *mongo.Client
	collection *mongo.Collection
	mount      string
}

// New connects, verifies the connection, and ensures the index.
func New(uri, database, collection, mount string) (*KV, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to MongoDB")
	}
	if err := client.Ping(context.Background(), nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging MongoDB")
	}
	coll := client.Database(database).Collection(collection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "mount", Value: 1},
			{Key: "key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	coll.Indexes().CreateOne(context.Background(), indexModel)
	return &KV{client: client, collection: coll, mount: mount}, nil
}

// Get reads one value; the second return is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	filter := bson.M{"mount": kv.mount, "key": key}
	var doc entryDocument
	err := kv.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cache entry")
	}
	return doc.Value, true, nil
}

// Set upserts one value.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	filter := bson.M{"mount": kv.mount, "key": key}
	update := bson.M{"$set": entryDocument{
		Mount:     kv.mount,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}}
	_, err := kv.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "writing cache entry")
}

// Close disconnects from MongoDB.
func (kv *KV) Close() error {
	return kv.client.Disconnect(context.Background())
}
