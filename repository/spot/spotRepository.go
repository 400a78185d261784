// repository/spot/repo.go
package spot

import (
	"context"
	"database/sql"
	"time"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
)

type Repo interface {
	Get(ctx context.Context, spotID int64) (*model.Spot, error)
	Windows(ctx context.Context, spotID int64) ([]model.AvailabilityWindow, error)
}

type repo struct {
	db *sql.DB
}

func New(db *sql.DB) Repo { return &repo{db: db} }

func (r *repo) Get(ctx context.Context, spotID int64) (*model.Spot, error) {
	const q = `
			SELECT id, owner_id, hourly_rate_cents, overtime_rate_cents, address, created_at
			FROM spots
			WHERE id = $1`
	var s model.Spot
	err := r.db.QueryRowContext(ctx, q, spotID).Scan(
		&s.ID, &s.OwnerID, &s.HourlyRateCents, &s.OvertimeRateCents, &s.Address, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) Windows(ctx context.Context, spotID int64) ([]model.AvailabilityWindow, error) {
	const q = `
			SELECT spot_id, weekday, open_minute, close_minute
			FROM spot_availability_windows
			WHERE spot_id = $1
			ORDER BY weekday, open_minute`
	rows, err := r.db.QueryContext(ctx, q, spotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		var wd int
		if err := rows.Scan(&w.SpotID, &wd, &w.OpenMinute, &w.CloseMinute); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(wd)
		out = append(out, w)
	}
	return out, rows.Err()
}
