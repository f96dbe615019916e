package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTracker marks session liveness in Redis so other instances and
// operators can see which sessions this process owns.
// Keys: SET quiz:session:{sessionID} {quizID} EX ttl, plus SADD quiz:sessions {sessionID}.
type SessionTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionTracker(client *redis.Client, ttl time.Duration) *SessionTracker {
	return &SessionTracker{client: client, ttl: ttl}
}

func (t *SessionTracker) Track(ctx context.Context, sessionID, quizID string) error {
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, t.key(sessionID), quizID, t.ttl)
	pipe.SAdd(ctx, liveSessionsKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *SessionTracker) Forget(ctx context.Context, sessionID string) error {
	pipe := t.client.TxPipeline()
	pipe.Del(ctx, t.key(sessionID))
	pipe.SRem(ctx, liveSessionsKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Live lists tracked session IDs whose liveness key has not expired.
func (t *SessionTracker) Live(ctx context.Context) ([]string, error) {
	ids, err := t.client.SMembers(ctx, liveSessionsKey).Result()
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := t.client.Exists(ctx, t.key(id)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

func (t *SessionTracker) key(sessionID string) string {
	return "quiz:session:" + sessionID
}

const liveSessionsKey = "quiz:sessions"
