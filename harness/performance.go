package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/weiihann/dbcompare/workload"
)

const (
	// Records created before now minus retention are deleted.
	retention     = 300 * 24 * time.Hour
	priceIncrease = 10.0
	reviewBelow   = 3.0
)

func crud(gen func() *workload.Generator, size int) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareRecords(ctx); err != nil {
			return fmt.Errorf("prepare records: %w", err)
		}

		g := gen()
		records := g.Records(size)
		cutoff := g.Now().Add(-retention)

		rec.Time(OpCreate, fmt.Sprintf("bulk insert %d records", size), func(ctx context.Context) (int64, error) {
			return s.InsertRecords(ctx, records)
		})

		for _, q := range workload.PerformanceQueries() {
			rec.Time(OpRead, "read "+string(q), func(ctx context.Context) (int64, error) {
				return s.CountRecords(ctx, q)
			})
		}

		if size > 0 {
			id := records[size/2].ID
			rec.Time(OpRead, "find by id", func(ctx context.Context) (int64, error) {
				return s.FindRecord(ctx, id)
			})
		}

		rec.Time(OpUpdate, "increase "+workload.FilterCategory+" prices", func(ctx context.Context) (int64, error) {
			return s.IncreasePrice(ctx, workload.FilterCategory, priceIncrease)
		})
		rec.Time(OpUpdate, "flag low rated for review", func(ctx context.Context) (int64, error) {
			return s.FlagForReview(ctx, reviewBelow, g.Now())
		})
		del := rec.Time(OpDelete, "delete records older than 300 days", func(ctx context.Context) (int64, error) {
			return s.DeleteOlderThan(ctx, cutoff)
		})
		count := rec.Time(OpRead, "count remaining", func(ctx context.Context) (int64, error) {
			return s.CountRecords(ctx, workload.QueryAll)
		})

		want := int64(0)
		for _, r := range records {
			if !r.CreatedAt.Before(cutoff) {
				want++
			}
		}

		rec.Check("consistent_after_crud", del.Success && count.Success && count.Affected == want)

		return nil
	}
}
