package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo dials uri and selects database name.
func ConnectMongo(ctx context.Context, uri, name string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("missing required env var: MONGO_URI")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	log.Infow("connected to MongoDB", "db", name)
	return &MongoStore{client: client, db: client.Database(name)}, nil
}

// Init is a no-op: collections are created on first write.
func (s *MongoStore) Init() error {
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
