// repository/realtime/repo.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
)

// Publisher fans spot events out to clients currently watching a spot.
// At-most-once, best-effort; correctness never depends on delivery.
type Publisher interface {
	Publish(ctx context.Context, ev model.SpotEvent) error
}

type publisher struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) Publisher { return &publisher{rdb: rdb} }

func Channel(spotID int64) string { return fmt.Sprintf("spot:%d:events", spotID) }

func (p *publisher) Publish(ctx context.Context, ev model.SpotEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(ev.SpotID), b).Err()
}
