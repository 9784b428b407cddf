// internal/permit/catalog/catalog.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "permit:catalog:"

// Catalog reads reference data from Postgres, fronted by Redis when a
// client is configured. Cache errors only cost a database round trip.
type Catalog struct {
	db     *sql.DB
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func New(db *sql.DB, rdb *redis.Client, ttl time.Duration, log logger.Logger) *Catalog {
	return &Catalog{db: db, redis: rdb, ttl: ttl, logger: log}
}

func (c *Catalog) Fee(ctx context.Context, id string) (*models.Fee, error) {
	var fee models.Fee
	err := c.cached(ctx, "fee:"+id, &fee, func() error {
		err := c.db.QueryRowContext(ctx,
			`SELECT id, name, default_amount FROM fee_catalog WHERE id = $1`, id,
		).Scan(&fee.ID, &fee.Name, &fee.DefaultAmount)
		return notFound(err, "fee", id)
	})
	if err != nil {
		return nil, err
	}
	return &fee, nil
}

func (c *Catalog) PermitType(ctx context.Context, id string) (*models.PermitType, error) {
	var pt models.PermitType
	err := c.cached(ctx, "permit-type:"+id, &pt, func() error {
		var policy string
		err := c.db.QueryRowContext(ctx,
			`SELECT id, name, validity_policy, default_validity FROM permit_types WHERE id = $1`, id,
		).Scan(&pt.ID, &pt.Name, &policy, &pt.DefaultValidity)
		pt.ValidityPolicy = models.ValidityPolicy(policy)
		return notFound(err, "permit type", id)
	})
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (c *Catalog) Business(ctx context.Context, id string) (*models.Business, error) {
	var b models.Business
	err := c.cached(ctx, "business:"+id, &b, func() error {
		err := c.db.QueryRowContext(ctx,
			`SELECT id, business_name, owner_name, address FROM businesses WHERE id = $1`, id,
		).Scan(&b.ID, &b.BusinessName, &b.OwnerName, &b.Address)
		return notFound(err, "business", id)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Recipient returns contact data for one user. Not cached.
func (c *Catalog) Recipient(ctx context.Context, userID string) (*models.Recipient, error) {
	var r models.Recipient
	var email, phone sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT id, email, phone FROM users WHERE id = $1`, userID,
	).Scan(&r.UserID, &email, &phone)
	if err := notFound(err, "user", userID); err != nil {
		return nil, err
	}
	r.Email, r.Phone = email.String, phone.String
	return &r, nil
}

// RecipientsByRole lists every user holding role. Not cached.
func (c *Catalog) RecipientsByRole(ctx context.Context, role string) ([]models.Recipient, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, email, phone FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list users by role", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var r models.Recipient
		var email, phone sql.NullString
		if err := rows.Scan(&r.UserID, &email, &phone); err != nil {
			return nil, apperrors.NewDatabaseError("scan user", err)
		}
		r.Email, r.Phone = email.String, phone.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list users by role", err)
	}
	return out, nil
}

// invalidate drops one cached entry, e.g. "fee:<id>".
func (c *Catalog) invalidate(ctx context.Context, key string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, keyPrefix+key).Err()
}

func (c *Catalog) cached(ctx context.Context, key string, dest interface{}, load func() error) error {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, keyPrefix+key).Result()
		if err == nil {
			if err := json.Unmarshal([]byte(val), dest); err == nil {
				return nil
			}
			// Undecodable entries are dropped even if the reload below fails.
			if err := c.invalidate(ctx, key); err != nil {
				c.logger.Warn("catalog cache invalidate failed", map[string]interface{}{"key": key, "error": err.Error()})
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}

	if err := load(); err != nil {
		return err
	}

	if c.redis != nil {
		data, err := json.Marshal(dest)
		if err == nil {
			if err := c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("catalog cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
			}
		}
	}
	return nil
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(resource, id)
	}
	if err != nil {
		return apperrors.NewDatabaseError("load "+resource, err)
	}
	return nil
}
