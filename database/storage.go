package database

import "context"

// Storage defines the lifecycle every backing store connection satisfies.
type Storage interface {
	Init() error
	Close() error
	HealthCheck(ctx context.Context) error
}

var (
	_ Storage = (*GORMStore)(nil)
	_ Storage = (*SQLiteStore)(nil)
	_ Storage = (*MongoStore)(nil)
	_ Storage = (*RedisStore)(nil)
)
