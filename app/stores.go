package app

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/database"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/quota"
)

// connections opens each backing store at most once and remembers it for
// health checks and shutdown.
type connections struct {
	env    *config.EnviornmentVariable
	opened map[string]database.Storage
	order  []string
}

func newConnections(env *config.EnviornmentVariable) *connections {
	return &connections{env: env, opened: make(map[string]database.Storage)}
}

func (c *connections) remember(name string, s database.Storage) {
	c.opened[name] = s
	c.order = append(c.order, name)
}

func (c *connections) postgres() (*database.GORMStore, error) {
	if s, ok := c.opened["postgres"]; ok {
		return s.(*database.GORMStore), nil
	}
	store, err := database.StartGORM()
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, err
	}
	c.remember("postgres", store)
	return store, nil
}

func (c *connections) redis(ctx context.Context) (*database.RedisStore, error) {
	if s, ok := c.opened["redis"]; ok {
		return s.(*database.RedisStore), nil
	}
	store, err := database.ConnectRedis(ctx, c.env.REDIS_URL)
	if err != nil {
		return nil, err
	}
	c.remember("redis", store)
	return store, nil
}

func (c *connections) sqlite() (*database.SQLiteStore, error) {
	if s, ok := c.opened["sqlite"]; ok {
		return s.(*database.SQLiteStore), nil
	}
	store, err := database.OpenSQLite(c.env.SQLITE_PATH)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, err
	}
	c.remember("sqlite", store)
	return store, nil
}

func (c *connections) mongo(ctx context.Context) (*database.MongoStore, error) {
	if s, ok := c.opened["mongo"]; ok {
		return s.(*database.MongoStore), nil
	}
	store, err := database.ConnectMongo(ctx, c.env.MONGO_URI, c.env.MONGO_DB)
	if err != nil {
		return nil, err
	}
	c.remember("mongo", store)
	return store, nil
}

// gormDB returns the postgres handle when postgres is already open.
func (c *connections) gormDB() *gorm.DB {
	if s, ok := c.opened["postgres"]; ok {
		return s.(*database.GORMStore).DB()
	}
	return nil
}

func (c *connections) storages() map[string]database.Storage {
	out := make(map[string]database.Storage, len(c.opened))
	for k, v := range c.opened {
		out[k] = v
	}
	return out
}

func (c *connections) Close() {
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		if err := c.opened[name].Close(); err != nil {
			log.Warnw("failed to close store", "store", name, "error", err)
		}
	}
}

// chatBackend opens the store named by CHAT_STORE. Chats are the record of
// the product, so a store that cannot be reached stops startup.
func (c *connections) chatBackend(ctx context.Context) (chatstore.Backend, error) {
	switch c.env.CHAT_STORE {
	case "postgres", "":
		s, err := c.postgres()
		if err != nil {
			return nil, err
		}
		return chatstore.NewGORMBackend(s.DB()), nil
	case "redis":
		s, err := c.redis(ctx)
		if err != nil {
			return nil, err
		}
		return chatstore.NewRedisBackend(s.Client()), nil
	case "sqlite":
		s, err := c.sqlite()
		if err != nil {
			return nil, err
		}
		return chatstore.NewSQLiteBackend(s.DB()), nil
	case "mongo":
		s, err := c.mongo(ctx)
		if err != nil {
			return nil, err
		}
		return chatstore.NewMongoBackend(s.Database()), nil
	case "memory":
		log.Warn("CHAT_STORE=memory: chats are lost on restart")
		return chatstore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown CHAT_STORE %q", c.env.CHAT_STORE)
	}
}

// quotaCounter opens the store named by QUOTA_STORE. A store that cannot be
// reached yields a nil counter, which makes the ledger fail open.
func (c *connections) quotaCounter(ctx context.Context) quota.Counter {
	var (
		counter quota.Counter
		err     error
	)
	switch c.env.QUOTA_STORE {
	case "redis", "":
		var s *database.RedisStore
		if s, err = c.redis(ctx); err == nil {
			counter = quota.NewRedisCounter(s.Client())
		}
	case "postgres":
		var s *database.GORMStore
		if s, err = c.postgres(); err == nil {
			counter = quota.NewGORMCounter(s.DB())
		}
	case "sqlite":
		var s *database.SQLiteStore
		if s, err = c.sqlite(); err == nil {
			counter = quota.NewSQLCounter(s.DB())
		}
	case "memory":
		counter = quota.NewMemoryCounter()
	default:
		err = fmt.Errorf("unknown QUOTA_STORE %q", c.env.QUOTA_STORE)
	}

	if err != nil {
		log.Warnw("quota store unavailable, message limits are not enforced", "store", c.env.QUOTA_STORE, "error", err)
		return nil
	}
	return counter
}

// OpenChatStore opens the CHAT_STORE backend on its own, for tools that do
// not need the rest of the service graph.
func OpenChatStore(ctx context.Context, env *config.EnviornmentVariable) (chatstore.Backend, func(), error) {
	conns := newConnections(env)
	backend, err := conns.chatBackend(ctx)
	if err != nil {
		conns.Close()
		return nil, nil, err
	}
	return backend, conns.Close, nil
}

// Migrate opens the configured chat and quota stores, which creates their
// tables, and returns the names of the stores it touched.
func Migrate(ctx context.Context, env *config.EnviornmentVariable) ([]string, error) {
	conns := newConnections(env)
	defer conns.Close()

	if _, err := conns.chatBackend(ctx); err != nil {
		return nil, fmt.Errorf("chat store %q: %w", env.CHAT_STORE, err)
	}
	if conns.quotaCounter(ctx) == nil {
		return nil, fmt.Errorf("quota store %q is unavailable", env.QUOTA_STORE)
	}

	names := append([]string(nil), conns.order...)
	return names, nil
}
