package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 24 * time.Hour

// ErrStoreUnavailable indicates the backing store could not be reached. The
// orchestrator must not proceed with empty memory when this is returned.
var ErrStoreUnavailable = errors.New("session: store unavailable")

// Store describes the session persistence contract the orchestrator depends on.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	GetProfile(ctx context.Context, sessionID string) (ProfileBag, error)
	MergeProfile(ctx context.Context, sessionID string, partial ProfileBag) (ProfileBag, error)
}

// RedisStore persists sessions as JSON blobs in Redis with a rolling TTL.
// Every read hits the store; no in-process caching survives a restart.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a store around the provided Redis client.
func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("concierge.internal.session")
	}
	return &RedisStore{
		redis:  client,
		tracer: tracer,
		ttl:    ttl,
	}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Load fetches the session, returning a fresh empty session when the key is
// absent. Store unreachability surfaces as ErrStoreUnavailable.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewSession(sessionID), nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: load %s: %v", ErrStoreUnavailable, sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode session %s: %w", sessionID, err)
	}
	if sess.Profile == nil {
		sess.Profile = ProfileBag{}
	}
	if sess.Turns == nil {
		sess.Turns = []Turn{}
	}
	return &sess, nil
}

// Save writes the whole session back and refreshes the TTL.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	if sess == nil {
		return errors.New("session: cannot save nil session")
	}
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal session %s: %w", sess.ID, err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: save %s: %v", ErrStoreUnavailable, sess.ID, err)
	}
	return nil
}

// Append loads the session, appends the turns in order, bumps the turn
// counter once, and saves. Callers needing multi-turn atomicity within one
// inbound-message cycle should pass all turns in a single call.
func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	sess, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.TurnCounter++
	return s.Save(ctx, sess)
}

// GetProfile returns the structured profile bag for the session.
func (s *RedisStore) GetProfile(ctx context.Context, sessionID string) (ProfileBag, error) {
	sess, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Profile, nil
}

// MergeProfile shallow-merges the partial profile into the stored bag, new
// keys overwriting old ones, and returns the merged result.
func (s *RedisStore) MergeProfile(ctx context.Context, sessionID string, partial ProfileBag) (ProfileBag, error) {
	sess, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Profile = sess.Profile.Merge(partial)
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Profile, nil
}
