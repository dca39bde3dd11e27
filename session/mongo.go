package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lowkaihon/unai/llm"
)

// DefaultCollection is used when no collection name is given.
const DefaultCollection = "sessions"

// sessionDocument is the stored form of a session. Messages are kept as
// their canonical JSON encoding so opaque fields round-trip byte for byte.
type sessionDocument struct {
	Meta     `bson:",inline"`
	Messages string `bson:"messages"`
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
	client     *mongo.Client
}

// NewMongoStore uses an existing database handle.
func NewMongoStore(db *mongo.Database, collectionName string) *MongoStore {
	if collectionName == "" {
		collectionName = DefaultCollection
	}
	return &MongoStore{collection: db.Collection(collectionName)}
}

// OpenMongo connects to uri and returns a store owning the connection.
// Close disconnects it.
func OpenMongo(ctx context.Context, uri, database, collectionName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	s := NewMongoStore(client.Database(database), collectionName)
	s.client = client
	return s, nil
}

// Close disconnects a store created by OpenMongo.
func (m *MongoStore) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func toDocument(s *Session) (sessionDocument, error) {
	msgs, err := json.Marshal(s.Messages)
	if err != nil {
		return sessionDocument{}, fmt.Errorf("marshal messages: %w", err)
	}
	return sessionDocument{Meta: s.Meta, Messages: string(msgs)}, nil
}

func fromDocument(doc sessionDocument) (*Session, error) {
	s := &Session{Meta: doc.Meta}
	if doc.Messages != "" {
		var msgs []llm.Message
		if err := json.Unmarshal([]byte(doc.Messages), &msgs); err != nil {
			return nil, fmt.Errorf("parse messages: %w", err)
		}
		s.Messages = msgs
	}
	return s, nil
}

func idFilter(id string) bson.M {
	return bson.M{"_id": id}
}

// listOptions sorts by update time, newest first, and leaves out the
// message bodies.
func listOptions(max int) *options.FindOptions {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"messages": 0})
	if max > 0 {
		opts.SetLimit(int64(max))
	}
	return opts
}

// Save upserts the session.
func (m *MongoStore) Save(ctx context.Context, s *Session) error {
	if len(s.Messages) == 0 {
		return nil
	}
	s.touch()
	doc, err := toDocument(s)
	if err != nil {
		return err
	}

	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	if _, err := m.collection.UpdateOne(ctx, idFilter(s.Meta.ID), update, opts); err != nil {
		return fmt.Errorf("upsert session %q: %w", s.Meta.ID, err)
	}
	return nil
}

func (m *MongoStore) Load(ctx context.Context, id string) (*Session, error) {
	var doc sessionDocument
	err := m.collection.FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find session %q: %w", id, err)
	}
	return fromDocument(doc)
}

func (m *MongoStore) List(ctx context.Context, max int) ([]Meta, error) {
	cur, err := m.collection.Find(ctx, bson.M{}, listOptions(max))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var metas []Meta
	if err := cur.All(ctx, &metas); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return metas, nil
}

func (m *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
