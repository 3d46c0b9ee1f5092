package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

const defaultPresencePrefix = "chat:presence"

// RedisPresence mirrors aggregate online state in Redis so several relay
// processes, and the online users endpoint, can read it without touching the
// database.
type RedisPresence struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisPresence connects to redisURL.
func NewRedisPresence(ctx context.Context, redisURL string) (*RedisPresence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisPresenceWithClient(client, defaultPresencePrefix), nil
}

// NewRedisPresenceWithClient wraps an existing client. Keys are namespaced by
// prefix.
func NewRedisPresenceWithClient(client *redis.Client, prefix string) *RedisPresence {
	if prefix == "" {
		prefix = defaultPresencePrefix
	}
	return &RedisPresence{client: client, prefix: prefix, now: time.Now}
}

// Close closes the Redis connection.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}

// Ping checks the Redis connection.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPresence) onlineKey() string {
	return p.prefix + ":online"
}

func (p *RedisPresence) lastSeenKey() string {
	return p.prefix + ":last_seen"
}

// UpdatePresence adds userID to, or removes it from, the online set. Going
// offline also records the last-seen time.
func (p *RedisPresence) UpdatePresence(ctx context.Context, userID int64, online bool) error {
	member := strconv.FormatInt(userID, 10)

	pipe := p.client.TxPipeline()
	if online {
		pipe.SAdd(ctx, p.onlineKey(), member)
		pipe.HDel(ctx, p.lastSeenKey(), member)
	} else {
		pipe.SRem(ctx, p.onlineKey(), member)
		pipe.HSet(ctx, p.lastSeenKey(), member, p.now().UTC().UnixMilli())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return chaterr.Persistence("cache presence", err)
	}
	return nil
}

// Presence returns the cached state of userID.
func (p *RedisPresence) Presence(ctx context.Context, userID int64) (models.Presence, error) {
	member := strconv.FormatInt(userID, 10)

	online, err := p.client.SIsMember(ctx, p.onlineKey(), member).Result()
	if err != nil {
		return models.Presence{}, chaterr.Persistence("cached presence", err)
	}
	out := models.Presence{UserID: userID, IsOnline: online}
	if online {
		return out, nil
	}

	millis, err := p.client.HGet(ctx, p.lastSeenKey(), member).Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return models.Presence{}, chaterr.Persistence("cached presence", err)
	default:
		seen := time.UnixMilli(millis).UTC()
		out.LastSeenAt = &seen
	}
	return out, nil
}

// OnlineUserIDs returns the ids in the online set.
func (p *RedisPresence) OnlineUserIDs(ctx context.Context) ([]int64, error) {
	members, err := p.client.SMembers(ctx, p.onlineKey()).Result()
	if err != nil {
		return nil, chaterr.Persistence("cached online users", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reset clears every cached presence entry. It is used at startup, when no
// connection is live yet.
func (p *RedisPresence) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, p.onlineKey(), p.lastSeenKey()).Err(); err != nil {
		return chaterr.Persistence("reset presence", err)
	}
	return nil
}

// cachedStore writes presence through to a RedisPresence and serves online
// users from it.
type cachedStore struct {
	Store
	cache *RedisPresence
}

// WithPresenceCache returns base with presence mirrored to cache. Writes go to
// base first and errors from both are joined.
func WithPresenceCache(base Store, cache *RedisPresence) Store {
	return &cachedStore{Store: base, cache: cache}
}

func (s *cachedStore) UpdatePresence(ctx context.Context, userID int64, online bool) error {
	baseErr := s.Store.UpdatePresence(ctx, userID, online)
	cacheErr := s.cache.UpdatePresence(ctx, userID, online)
	return errors.Join(baseErr, cacheErr)
}

func (s *cachedStore) OnlineUsers(ctx context.Context) ([]models.User, error) {
	ids, err := s.cache.OnlineUserIDs(ctx)
	if err != nil {
		return s.Store.OnlineUsers(ctx)
	}

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.Store.GetUserByID(ctx, id)
		if err != nil {
			if chaterr.IsKind(err, chaterr.KindNotFound) {
				continue
			}
			return nil, err
		}
		u.IsOnline = true
		u.LastSeenAt = nil
		users = append(users, u)
	}
	sortUsers(users)
	return users, nil
}

func (s *cachedStore) Presence(ctx context.Context, userID int64) (models.Presence, error) {
	return s.cache.Presence(ctx, userID)
}

func (s *cachedStore) Ping(ctx context.Context) error {
	return errors.Join(s.Store.Ping(ctx), s.cache.Ping(ctx))
}

func (s *cachedStore) Close() error {
	return errors.Join(s.cache.Close(), s.Store.Close())
}
