// repository/hold/repo.go
package hold

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
)

// Repo keeps advisory checkout holds in redis, one sorted set per spot
// scored by expiry. Holds are never consulted at commit time; they only
// narrow the race between deciding to book and finishing payment.
type Repo interface {
	Claim(ctx context.Context, spotID, requesterID int64, start, end time.Time, ttl time.Duration) (*model.Hold, error)
	Live(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error)
	Release(ctx context.Context, spotID int64, holdID string) error
}

type repo struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) Repo { return &repo{rdb: rdb} }

func key(spotID int64) string { return fmt.Sprintf("spot:%d:holds", spotID) }

func (r *repo) Claim(ctx context.Context, spotID, requesterID int64, start, end time.Time, ttl time.Duration) (*model.Hold, error) {
	h := model.Hold{
		ID:          uuid.NewString(),
		SpotID:      spotID,
		RequesterID: requesterID,
		StartAt:     start,
		EndAt:       end,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	member, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.ZAdd(ctx, key(spotID), &redis.Z{
		Score:  float64(h.ExpiresAt.Unix()),
		Member: string(member),
	}).Err(); err != nil {
		return nil, err
	}
	// Keep the set itself from outliving abandoned spots.
	r.rdb.Expire(ctx, key(spotID), ttl+time.Minute)
	return &h, nil
}

func (r *repo) Live(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error) {
	k := key(spotID)
	if err := r.rdb.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", now.Unix())).Err(); err != nil {
		return nil, err
	}
	members, err := r.rdb.ZRangeByScore(ctx, k, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", now.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.Hold, 0, len(members))
	for _, m := range members {
		var h model.Hold
		if err := json.Unmarshal([]byte(m), &h); err != nil {
			continue // a corrupt member should not poison the whole set
		}
		out = append(out, h)
	}
	return out, nil
}

func (r *repo) Release(ctx context.Context, spotID int64, holdID string) error {
	k := key(spotID)
	members, err := r.rdb.ZRange(ctx, k, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		var h model.Hold
		if err := json.Unmarshal([]byte(m), &h); err != nil {
			continue
		}
		if h.ID == holdID {
			return r.rdb.ZRem(ctx, k, m).Err()
		}
	}
	return nil
}
