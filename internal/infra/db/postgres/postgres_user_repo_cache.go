package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/metrics"
	red "gym-membership/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator serves non-transactional FindByID from Redis.
// Reads inside a transaction always hit Postgres so row locks and the
// conditional upgrade see committed state.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger,
	}
}

func userKey(id string) string { return fmt.Sprintf("user:id:%s", id) }

func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if err := d.inner.Save(ctx, tx, u); err != nil {
		return err
	}
	d.invalidate(ctx, tx, u.ID)
	return nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		metrics.IncUserCache("bypass")
		return d.inner.FindByID(ctx, tx, id)
	}

	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncUserCache("hit")
			return &user, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncUserCache("error")
		d.log.Warn().Err(err).Str("key", key).Msg("user cache read failed")
	}

	metrics.IncUserCache("miss")
	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return user, nil
}

func (d *userRepoCacheDecorator) UpgradeRoleIfBelow(ctx context.Context, tx repository.Tx, id string, target model.Role) (bool, error) {
	ok, err := d.inner.UpgradeRoleIfBelow(ctx, tx, id, target)
	if err != nil {
		return false, err
	}
	if ok {
		d.invalidate(ctx, tx, id)
	}
	return ok, nil
}

// invalidate drops the cached user now and, inside a transaction, again after
// commit: a read between the write and the commit re-caches the old row.
func (d *userRepoCacheDecorator) invalidate(ctx context.Context, tx repository.Tx, id string) {
	d.del(ctx, id)
	if tx != nil {
		repository.AfterCommit(ctx, func(ctx context.Context) { d.del(ctx, id) })
	}
}

func (d *userRepoCacheDecorator) del(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, userKey(id)); err != nil {
		d.log.Warn().Err(err).Str("user_id", id).Msg("user cache invalidation failed")
	}
}
