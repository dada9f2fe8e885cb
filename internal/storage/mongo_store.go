package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB layout store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. tilegrid
	Collection string // e.g. layouts
}

// MongoStore implements LayoutStore on MongoDB. One document per volume,
// keyed by volume id; the snapshot itself is kept as a JSON string so the
// schema follows the json tags of Snapshot.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type layoutDoc struct {
	VolumeID string    `bson:"_id"`
	Snapshot string    `bson:"snapshot"`
	SavedAt  time.Time `bson:"saved_at"`
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "tilegrid"
	}
	if cfg.Collection == "" {
		cfg.Collection = "layouts"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (m *MongoStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrEmptyVolumeID)
	}
	if err := validate(ctx, snap.VolumeID); err != nil {
		return err
	}

	c := cloneSnapshot(snap)
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	doc := layoutDoc{VolumeID: c.VolumeID, Snapshot: string(data), SavedAt: c.SavedAt}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": c.VolumeID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", c.VolumeID, err)
	}
	return nil
}

func (m *MongoStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	var doc layoutDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": volumeID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", volumeID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(doc.Snapshot), &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}
	return &snap, true, nil
}

func (m *MongoStore) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer cur.Close(ctx)

	ids := []string{}
	for cur.Next(ctx) {
		var doc struct {
			VolumeID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.VolumeID)
	}
	return ids, cur.Err()
}

func (m *MongoStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": volumeID}); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", volumeID, err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
