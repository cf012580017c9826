package implementation

import (
	"context"
	"fmt"
	"time"

	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoReadingArchive upserts readings into a Mongo collection keyed by reading id
type MongoReadingArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongoReadingArchive connects to MongoDB with a timeout and pings the primary
func ConnectMongoReadingArchive(cfg config.ArchiveConfig, timeout time.Duration) (*MongoReadingArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoURI)
	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	archive := NewMongoReadingArchive(client.Database(cfg.DBName).Collection(cfg.Collection))
	archive.client = client
	if err := archive.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return archive, nil
}

func NewMongoReadingArchive(coll *mongo.Collection) *MongoReadingArchive {
	return &MongoReadingArchive{coll: coll}
}

// EnsureIndexes creates the per-device timeline index
func (a *MongoReadingArchive) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create reading index: %w", err)
	}
	return nil
}

func (a *MongoReadingArchive) Archive(ctx context.Context, rs []hardware_models.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(rs))
	for i := range rs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rs[i].ID}).
			SetReplacement(rs[i]).
			SetUpsert(true))
	}
	_, err := a.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("archive %d readings: %w", len(rs), err)
	}
	return nil
}

func (a *MongoReadingArchive) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

// Ping checks the primary is reachable
func (a *MongoReadingArchive) Ping(ctx context.Context) error {
	return a.coll.Database().Client().Ping(ctx, readpref.Primary())
}
