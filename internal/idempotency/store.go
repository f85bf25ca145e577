package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	claimPrefix = "claim:"
	donePrefix  = "done:"
)

// Key derives the storage key from the caller-supplied idempotency key and a
// scope value (the offering id), so the same key against a different offering
// is a distinct claim.
func Key(idemKey, scope string) string {
	sum := sha256.Sum256([]byte(idemKey + "|" + scope))
	return "checkout:idem:" + hex.EncodeToString(sum[:])
}

// Store provides atomic claim semantics over Redis: for a given key, at most
// one concurrent caller executes the guarded function; the others wait for and
// reuse its result. Completed results live for TTL; an in-flight claim holds a
// short lease so a crashed worker cannot poison the key.
type Store struct {
	R           *redis.Client
	TTL         time.Duration
	Lease       time.Duration
	PollBackoff time.Duration
}

// Do executes fn under the claim for key. The returned boolean reports whether
// the result was replayed from a previous execution instead of produced by fn.
// When the store has no Redis client, fn runs unguarded.
func (s Store) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if fn == nil {
		return nil, false, errors.New("idempotency: callback not provided")
	}
	if s.R == nil || strings.TrimSpace(key) == "" {
		out, err := fn(ctx)
		return out, false, err
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	lease := s.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	poll := s.PollBackoff
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	token := uuid.NewString()
	for {
		val, err := s.R.Get(ctx, key).Result()
		switch {
		case err == nil:
			if payload, done := strings.CutPrefix(val, donePrefix); done {
				return []byte(payload), true, nil
			}
			// another caller holds the claim; wait for its outcome
		case errors.Is(err, redis.Nil):
			ok, err := s.R.SetNX(ctx, key, claimPrefix+token, lease).Result()
			if err != nil {
				return nil, false, err
			}
			if ok {
				payload, err := fn(ctx)
				if err != nil {
					s.release(context.Background(), key, token)
					return nil, false, err
				}
				s.complete(context.Background(), key, token, payload, ttl)
				return payload, false, nil
			}
			// lost the claim race; re-read to observe the winner
			continue
		default:
			return nil, false, err
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}
}

// complete stores the result only while the claim is still ours. When the
// lease expired and another caller took over, their result stands.
func (s Store) complete(ctx context.Context, key, token string, payload []byte, ttl time.Duration) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  return 0
end`
	_ = s.R.Eval(ctx, script, []string{key},
		claimPrefix+token, donePrefix+string(payload), ttl.Milliseconds()).Err()
}

func (s Store) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := s.R.Eval(ctx, script, []string{key}, claimPrefix+token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = s.R.Del(ctx, key).Err()
		}
	}
}
