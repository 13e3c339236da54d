package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/blobcrypt/pkg/config/configstore"
)

var _ configstore.ConfigStore = (*MongoStore)(nil)

const opTimeout = 10 * time.Second

// MongoStore keeps a service's configuration in one document, keyed by the
// service name. Document fields use the same keys as the YAML config file.
type MongoStore struct {
	Client     *mongo.Client
	Collection *mongo.Collection
	ID         string
}

func New(uri, dbName, collName, id string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStore{
		Client:     client,
		Collection: client.Database(dbName).Collection(collName),
		ID:         id,
	}, nil
}

func (m *MongoStore) Load(out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res := m.Collection.FindOne(ctx, bson.M{"_id": m.ID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("document with ID %q not found", m.ID)
		}
		return fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	var doc bson.M
	if err := res.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return fromDocument(doc, out)
}

// fromDocument decodes doc into out through YAML so the yaml struct tags of
// the config types apply.
func fromDocument(doc bson.M, out any) error {
	delete(doc, "_id")
	data, err := yaml.Marshal(plain(doc))
	if err != nil {
		return fmt.Errorf("failed to convert document: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	return nil
}

func toDocument(in any) (bson.M, error) {
	data, err := yaml.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc bson.M
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	if doc == nil {
		doc = bson.M{}
	}
	return doc, nil
}

// plain turns driver container types into maps and slices yaml can encode.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = plain(e)
		}
		return s
	default:
		return v
	}
}

func (m *MongoStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	doc, err := toDocument(in)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	doc["_id"] = m.ID

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err = m.Collection.ReplaceOne(ctx, bson.M{"_id": m.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("Save: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

// Watch is not supported; a Mongo-held config is read once at start.
func (m *MongoStore) Watch(onChange func(), done <-chan struct{}) error {
	return fmt.Errorf("Watch not implemented for MongoDB store")
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return m.Client.Disconnect(ctx)
}
