package rollup

import (
	"context"
	"errors"
	"time"

	"hostwatch/internal/db"
)

// Retention is how long each table keeps its rows.
type Retention struct {
	Live          time.Duration
	Hourly        time.Duration
	Daily         time.Duration
	Containers    time.Duration
	Services      time.Duration
	Notifications time.Duration
}

func DefaultRetention() Retention {
	return Retention{
		Live:          24 * time.Hour,
		Hourly:        7 * 24 * time.Hour,
		Daily:         30 * 24 * time.Hour,
		Containers:    7 * 24 * time.Hour,
		Services:      7 * 24 * time.Hour,
		Notifications: 30 * 24 * time.Hour,
	}
}

func (r Retention) withDefaults() Retention {
	d := DefaultRetention()
	for _, p := range []struct{ v, def *time.Duration }{
		{&r.Live, &d.Live},
		{&r.Hourly, &d.Hourly},
		{&r.Daily, &d.Daily},
		{&r.Containers, &d.Containers},
		{&r.Services, &d.Services},
		{&r.Notifications, &d.Notifications},
	} {
		if *p.v <= 0 {
			*p.v = *p.def
		}
	}
	return r
}

// Prune deletes expired rows from every table except metrics_live, which
// the hourly pass owns. A failing table does not stop the others.
func (r Retention) Prune(ctx context.Context, repo *db.Repository, now time.Time) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, p := range []struct {
		table db.Table
		keep  time.Duration
	}{
		{db.TableHourly, r.Hourly},
		{db.TableDaily, r.Daily},
		{db.TableContainers, r.Containers},
		{db.TableServices, r.Services},
		{db.TableNotifications, r.Notifications},
	} {
		n, err := repo.DeleteBefore(ctx, p.table, now.Add(-p.keep))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
