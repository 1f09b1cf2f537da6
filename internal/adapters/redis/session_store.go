// Package redis provides Redis-backed adapters for portal-auth.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

const (
	defaultPrefix      = "session:"
	defaultIndexPrefix = "session_user:"

	fieldData         = "data"
	fieldUserID       = "user_id"
	fieldLastActivity = "last_activity"

	scanBatch = 200
)

// touchScript bumps last_activity only when the session hash still exists,
// so a touch racing a delete never recreates the key. The value never moves backwards.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'last_activity') or '0')
if tonumber(ARGV[1]) > cur then
  redis.call('HSET', KEYS[1], 'last_activity', ARGV[1])
end
return 1
`)

// SessionStore keeps each session in a hash at <prefix><id> that expires at
// the session's absolute expiry, plus a per-user index set of session IDs.
type SessionStore struct {
	client      redis.UniversalClient
	prefix      string
	indexPrefix string
	now         func() time.Time
}

// Option customizes a SessionStore.
type Option func(*SessionStore)

// WithPrefix sets the session key prefix and derives the user index prefix from it.
func WithPrefix(prefix string) Option {
	return func(s *SessionStore) {
		s.prefix = prefix
		s.indexPrefix = prefix + "user:"
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *SessionStore) { s.now = now }
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, opts ...Option) *SessionStore {
	s := &SessionStore{
		client:      client,
		prefix:      defaultPrefix,
		indexPrefix: defaultIndexPrefix,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) key(id string) string           { return s.prefix + id }
func (s *SessionStore) indexKey(userID string) string { return s.indexPrefix + userID }

// Save writes the session and indexes it under its user. The index key lives
// at least as long as the longest session it references.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := s.key(sess.ID)
	idx := s.indexKey(sess.UserID)
	// Pipelined rather than TxPipelined: the two keys may live in different cluster slots.
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldData, data,
			fieldUserID, sess.UserID,
			fieldLastActivity, strconv.FormatInt(sess.LastActivity.UnixMilli(), 10),
		)
		p.PExpireAt(ctx, key, sess.ExpiresAt)
		p.SAdd(ctx, idx, sess.ID)
		p.ExpireNX(ctx, idx, ttl)
		p.ExpireGT(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Get returns the live session or domainauth.ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.Session, error) {
	if id == "" {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("redis get session: %w", err)
	}
	sess, ok, err := decodeSession(fields)
	if err != nil {
		return domainauth.Session{}, err
	}
	if !ok {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	// key expiry has millisecond precision; the absolute check is authoritative
	if sess.ExpiredAt(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", err)
		}
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	return sess, nil
}

func decodeSession(fields map[string]string) (domainauth.Session, bool, error) {
	raw, ok := fields[fieldData]
	if !ok {
		return domainauth.Session{}, false, nil
	}
	var sess domainauth.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return domainauth.Session{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	if v, ok := fields[fieldLastActivity]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			sess.LastActivity = time.UnixMilli(ms).UTC()
		}
	}
	return sess, true, nil
}

// Touch records activity at. A missing session yields ErrSessionNotFound.
func (s *SessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	n, err := touchScript.Run(ctx, s.client, []string{s.key(id)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("redis touch session: %w", err)
	}
	if n == 0 {
		return domainauth.ErrSessionNotFound
	}
	return nil
}

// Delete removes the session and its index entry. Deleting an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	key := s.key(id)
	userID, err := s.client.HGet(ctx, key, fieldUserID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete session: %w", err)
	}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if userID != "" {
			p.SRem(ctx, s.indexKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// ListByUser returns the user's live sessions, oldest first. Index entries
// whose session has expired are pruned.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]domainauth.Session, error) {
	idx := s.indexKey(userID)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user sessions: %w", err)
	}
	out, stale, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := s.client.SRem(ctx, idx, members...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune user index: %w", err)
		}
	}
	slices.SortFunc(out, func(a, b domainauth.Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// fetch loads the given session IDs in one pipeline and reports which are gone.
func (s *SessionStore) fetch(ctx context.Context, ids []string) ([]domainauth.Session, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis fetch sessions: %w", err)
	}
	now := s.now()
	var out []domainauth.Session
	var stale []string
	for i, cmd := range cmds {
		sess, ok, err := decodeSession(cmd.Val())
		if err != nil {
			return nil, nil, err
		}
		if !ok || sess.ExpiredAt(now) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}
	return out, stale, nil
}

// List returns live sessions newest first. Without a user filter it scans
// the keyspace, on every master when the client is a cluster client.
func (s *SessionStore) List(ctx context.Context, opts model.SessionListOptions) ([]domainauth.Session, error) {
	opts.Normalize()
	var all []domainauth.Session
	if opts.UserID != nil {
		var err error
		if all, err = s.ListByUser(ctx, *opts.UserID); err != nil {
			return nil, err
		}
	} else {
		ids, err := s.scanIDs(ctx)
		if err != nil {
			return nil, err
		}
		if all, _, err = s.fetch(ctx, ids); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(all, func(a, b domainauth.Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if opts.Offset >= len(all) {
		return []domainauth.Session{}, nil
	}
	all = all[opts.Offset:]
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *SessionStore) scanIDs(ctx context.Context) ([]string, error) {
	var (
		mu  sync.Mutex
		ids []string
	)
	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
		for iter.Next(ctx) {
			k := iter.Val()
			// the index prefix may share the session prefix
			if len(k) >= len(s.indexPrefix) && k[:len(s.indexPrefix)] == s.indexPrefix {
				continue
			}
			mu.Lock()
			ids = append(ids, k[len(s.prefix):])
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, fmt.Errorf("redis scan sessions: %w", err)
	}
	return ids, nil
}

// DeleteExpired is a no-op: Redis expires session keys natively and user
// indexes are pruned on read.
func (s *SessionStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
