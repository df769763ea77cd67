package harness

import (
	"context"
	"fmt"

	"github.com/weiihann/dbcompare/workload"
)

const (
	basicProductCount   = 100
	evolvedProductCount = 100
	nestedProductCount  = 20
)

func basicSchema(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareProducts(ctx); err != nil {
			return fmt.Errorf("prepare products: %w", err)
		}

		products := gen().BasicProducts(basicProductCount)

		create := rec.Time(OpCreate, "insert basic products", func(ctx context.Context) (int64, error) {
			return s.InsertProducts(ctx, products)
		})
		read := rec.Time(OpRead, "query price range", func(ctx context.Context) (int64, error) {
			return s.QueryProducts(ctx, workload.QueryPriceRange)
		})

		rec.Check("fixed_schema_insert", create.Success)
		rec.Check("fixed_schema_query", read.Success)

		return nil
	}
}

func schemaEvolution(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareProducts(ctx); err != nil {
			return fmt.Errorf("prepare products: %w", err)
		}

		g := gen()
		existing := g.BasicProducts(10)
		docs := g.EvolvedProducts(evolvedProductCount)

		rec.Time(OpCreate, "insert existing products", func(ctx context.Context) (int64, error) {
			return s.InsertProducts(ctx, existing)
		})

		direct, completed := insertEvolved(s, rec, docs)

		read := rec.Time(OpRead, "query new category field", func(ctx context.Context) (int64, error) {
			return s.QueryProducts(ctx, workload.QueryCategory)
		})

		rec.Check("accepts_new_fields_without_migration", direct)
		rec.Check("schema_evolution_completed", completed && read.Success)

		return nil
	}
}

// insertEvolved inserts docs as they are. When the store refuses them it
// migrates the store explicitly and retries once.
func insertEvolved(s Store, rec *Recorder, docs []workload.Document) (direct, completed bool) {
	insert := func(ctx context.Context) (int64, error) {
		return s.InsertDocuments(ctx, docs)
	}

	if first := rec.Time(OpCreate, "insert evolved products", insert); first.Success {
		return true, true
	}

	migrate := rec.Time(OpMigrate, "add fields to products", func(ctx context.Context) (int64, error) {
		return s.Migrate(ctx, docs)
	})
	if !migrate.Success {
		return false, false
	}

	retry := rec.Time(OpCreate, "insert evolved products after migration", insert)

	return false, retry.Success
}

func nestedStructures(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareProducts(ctx); err != nil {
			return fmt.Errorf("prepare products: %w", err)
		}

		products := gen().NestedProducts(nestedProductCount)

		create := rec.Time(OpCreate, "insert nested products", func(ctx context.Context) (int64, error) {
			return s.InsertNested(ctx, products)
		})

		reads := make([]OperationTiming, 0, 2)
		for _, q := range []workload.Query{workload.QueryArrayMatch, workload.QueryMultiLevel} {
			reads = append(reads, rec.Time(OpRead, "query "+string(q), func(ctx context.Context) (int64, error) {
				return s.QueryProducts(ctx, q)
			}))
		}

		rec.Check("stores_nested_structures", create.Success)
		rec.Check("nested_single_write", create.Success && create.Affected == int64(len(products)))
		rec.Check("queries_nested_fields", allOK(reads...))

		return nil
	}
}

func queryFlexibility(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareProducts(ctx); err != nil {
			return fmt.Errorf("prepare products: %w", err)
		}

		g := gen()
		basic := g.BasicProducts(basicProductCount / 2)
		docs := g.EvolvedProducts(evolvedProductCount)
		nested := g.NestedProducts(nestedProductCount)

		rec.Time(OpCreate, "seed basic products", func(ctx context.Context) (int64, error) {
			return s.InsertProducts(ctx, basic)
		})
		insertEvolved(s, rec, docs)
		rec.Time(OpCreate, "seed nested products", func(ctx context.Context) (int64, error) {
			return s.InsertNested(ctx, nested)
		})

		queries := workload.FlexibilityQueries()
		reads := make([]OperationTiming, 0, len(queries))

		for _, q := range queries {
			reads = append(reads, rec.Time(OpRead, "query "+string(q), func(ctx context.Context) (int64, error) {
				return s.QueryProducts(ctx, q)
			}))
		}

		rec.Check("queries_all_shapes", allOK(reads...))

		return nil
	}
}
