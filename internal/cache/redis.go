package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studiobook/internal/domain"
)

const (
	indexAll = keyPrefix + ":idx:all"
	genAll   = keyPrefix + ":gen:all"
)

var errStaleStamp = errors.New("cache: invalidated since stamp")

func weekdayIndex(day time.Weekday) string {
	return fmt.Sprintf("%s:idx:wd:%d", keyPrefix, int(day))
}

func weekdayGen(day time.Weekday) string {
	return fmt.Sprintf("%s:gen:wd:%d", keyPrefix, int(day))
}

func dateGen(date domain.Date) string {
	return fmt.Sprintf("%s:gen:date:%s", keyPrefix, date)
}

func genKeys(date domain.Date) []string {
	return []string{genAll, weekdayGen(date.Weekday()), dateGen(date)}
}

// Redis shares cached availability between processes. Every stored key is also added to
// a per-weekday index set and to a global index so weekday and full invalidation do not scan.
// Generation counters live next to the entries; Set watches them so a write computed before
// an invalidation from any process is discarded.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Ping reports whether the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool) {
	val, err := r.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key.String()).Msg("cache get failed")
		}
		return nil, false
	}
	return val, true
}

func (r *Redis) Stamp(ctx context.Context, date domain.Date) Stamp {
	st, err := readStamp(ctx, r.client, date)
	if err != nil {
		r.logger.Warn().Err(err).Str("date", date.String()).Msg("cache stamp failed")
	}
	return st
}

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readStamp(ctx context.Context, c mgetter, date domain.Date) (Stamp, error) {
	vals, err := c.MGet(ctx, genKeys(date)...).Result()
	if err != nil {
		return Stamp{}, err
	}
	var gens [3]uint64
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if gens[i], err = strconv.ParseUint(str, 10, 64); err != nil {
			return Stamp{}, err
		}
	}
	return Stamp{All: gens[0], Weekday: gens[1], Date: gens[2]}, nil
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte, stamp Stamp) {
	k := key.String()
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readStamp(ctx, tx, key.Date)
		if err != nil {
			return err
		}
		if current != stamp {
			return errStaleStamp
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, value, r.ttl)
			p.SAdd(ctx, weekdayIndex(key.Date.Weekday()), k)
			p.SAdd(ctx, indexAll, k)
			return nil
		})
		return err
	}, genKeys(key.Date)...)

	switch {
	case err == nil:
	case errors.Is(err, errStaleStamp), errors.Is(err, redis.TxFailedErr):
		r.logger.Debug().Str("key", k).Msg("cache set skipped, invalidated meanwhile")
	default:
		r.logger.Warn().Err(err).Str("key", k).Msg("cache set failed")
	}
}

func (r *Redis) InvalidateDate(ctx context.Context, date domain.Date) {
	keys := make([]string, 0, len(modes))
	for _, mode := range modes {
		keys = append(keys, Key{Date: date, Mode: mode}.String())
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	gen := dateGen(date)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, gen)
		if r.ttl > 0 {
			p.Expire(ctx, gen, 2*r.ttl)
		}
		p.Del(ctx, keys...)
		p.SRem(ctx, weekdayIndex(date.Weekday()), members...)
		p.SRem(ctx, indexAll, members...)
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("date", date.String()).Msg("cache invalidate date failed")
	}
}

func (r *Redis) InvalidateWeekday(ctx context.Context, day time.Weekday) {
	idx := weekdayIndex(day)
	if err := r.dropIndexed(ctx, idx, weekdayGen(day)); err != nil {
		r.logger.Warn().Err(err).Str("weekday", day.String()).Msg("cache invalidate weekday failed")
	}
}

func (r *Redis) InvalidateAll(ctx context.Context) {
	if err := r.dropIndexed(ctx, indexAll, genAll); err != nil {
		r.logger.Warn().Err(err).Msg("cache invalidate all failed")
		return
	}
	idx := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		idx = append(idx, weekdayIndex(d))
	}
	if err := r.client.Del(ctx, idx...).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("cache drop weekday indexes failed")
	}
}

// dropIndexed bumps gen, then deletes every key listed in the index set and the set itself.
// The bump comes first: a Set that commits after it fails its watch, one that committed
// before it is already listed in the index.
func (r *Redis) dropIndexed(ctx context.Context, index, gen string) error {
	if err := r.client.Incr(ctx, gen).Err(); err != nil {
		return err
	}
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(keys) > 0 {
			p.Del(ctx, keys...)
			if index != indexAll {
				p.SRem(ctx, indexAll, members...)
			}
		}
		p.Del(ctx, index)
		return nil
	})
	return err
}
