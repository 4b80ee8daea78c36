package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/auctionhub/internal/store"
)

// releaseScript deletes the lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Cache shared by every process pointing at the same server.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps client. ttl bounds the lifetime of cached state and bids.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) GetState(ctx context.Context, auctionID string) (*State, error) {
	var s State
	ok, err := r.getJSON(ctx, stateKey(auctionID), &s)
	if err != nil || !ok {
		return nil, wrap("get state", err)
	}
	return &s, nil
}

func (r *Redis) SetState(ctx context.Context, auctionID string, s State) error {
	return wrap("set state", r.setJSON(ctx, stateKey(auctionID), s))
}

func (r *Redis) GetHighestBid(ctx context.Context, auctionID string) (*store.BidSnapshot, error) {
	var b store.BidSnapshot
	ok, err := r.getJSON(ctx, highestBidKey(auctionID), &b)
	if err != nil || !ok {
		return nil, wrap("get highest bid", err)
	}
	return &b, nil
}

func (r *Redis) SetHighestBid(ctx context.Context, auctionID string, b store.BidSnapshot) error {
	return wrap("set highest bid", r.setJSON(ctx, highestBidKey(auctionID), b))
}

func (r *Redis) DeleteHighestBid(ctx context.Context, auctionID string) error {
	return wrap("delete highest bid", r.client.Del(ctx, highestBidKey(auctionID)).Err())
}

func (r *Redis) AcquireLock(ctx context.Context, auctionID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey(auctionID), token, ttl).Result()
	if err != nil {
		return "", false, wrap("acquire lock", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *Redis) ReleaseLock(ctx context.Context, auctionID, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{lockKey(auctionID)}, token).Int()
	if err != nil {
		return wrap("release lock", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (r *Redis) AddParticipant(ctx context.Context, auctionID, userID string) error {
	return wrap("add participant", r.client.SAdd(ctx, participantsKey(auctionID), userID).Err())
}

func (r *Redis) RemoveParticipant(ctx context.Context, auctionID, userID string) error {
	return wrap("remove participant", r.client.SRem(ctx, participantsKey(auctionID), userID).Err())
}

func (r *Redis) Participants(ctx context.Context, auctionID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, participantsKey(auctionID)).Result()
	return members, wrap("list participants", err)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, r.ttl).Err()
}
