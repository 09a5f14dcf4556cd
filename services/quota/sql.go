package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/askable/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMCounter stores counters in the rate_limits table using a single
// upsert-returning statement per increment.
type GORMCounter struct {
	db *gorm.DB
}

func NewGORMCounter(db *gorm.DB) *GORMCounter {
	return &GORMCounter{db: db}
}

func (c *GORMCounter) Incr(ctx context.Context, identity string, w Window) (int64, error) {
	row := model.QuotaCounter{
		Identity:    identity,
		WindowStart: w.Start,
		Count:       1,
		ExpiresAt:   w.End,
	}
	err := c.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "identity"}, {Name: "window_start"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("rate_limits.count + 1")}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "count"}}},
		).
		Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return row.Count, nil
}

func (c *GORMCounter) Get(ctx context.Context, identity string, w Window) (int64, error) {
	var row model.QuotaCounter
	err := c.db.WithContext(ctx).
		Where("identity = ? AND window_start = ?", identity, w.Start).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

func (c *GORMCounter) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Where("expires_at <= ?", before).Delete(&model.QuotaCounter{})
	return res.RowsAffected, res.Error
}

// SQLCounter is the database/sql flavour used with SQLite.
type SQLCounter struct {
	db *sql.DB
}

func NewSQLCounter(db *sql.DB) *SQLCounter {
	return &SQLCounter{db: db}
}

func (c *SQLCounter) Incr(ctx context.Context, identity string, w Window) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (identity, window_start, count, expires_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (identity, window_start) DO UPDATE SET count = rate_limits.count + 1
		RETURNING count`,
		identity, w.Start.Unix(), w.End.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return count, nil
}

func (c *SQLCounter) Get(ctx context.Context, identity string, w Window) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT count FROM rate_limits WHERE identity = ? AND window_start = ?`,
		identity, w.Start.Unix(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (c *SQLCounter) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
