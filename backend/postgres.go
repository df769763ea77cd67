package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/workload"
)

var productTables = []string{
	`CREATE TABLE products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		price      NUMERIC(10,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE products_complex (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		price      NUMERIC(10,2) NOT NULL,
		category   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE product_reviews (
		id          BIGSERIAL PRIMARY KEY,
		product_id  TEXT NOT NULL REFERENCES products_complex(id) ON DELETE CASCADE,
		reviewer    TEXT NOT NULL,
		rating      INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment     TEXT,
		verified    BOOLEAN NOT NULL DEFAULT FALSE,
		review_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE product_variants (
		sku            TEXT PRIMARY KEY,
		product_id     TEXT NOT NULL REFERENCES products_complex(id) ON DELETE CASCADE,
		color          TEXT,
		size           TEXT,
		stock          INT NOT NULL DEFAULT 0,
		price_modifier NUMERIC(10,2) NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE product_analytics (
		product_id      TEXT PRIMARY KEY REFERENCES products_complex(id) ON DELETE CASCADE,
		views           INT NOT NULL DEFAULT 0,
		purchases       INT NOT NULL DEFAULT 0,
		conversion_rate NUMERIC(6,4) NOT NULL DEFAULT 0,
		last_updated    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX idx_product_reviews_rating ON product_reviews (product_id, rating)`,
}

var recordTables = []string{
	`CREATE TABLE performance_test (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		price       NUMERIC(10,2) NOT NULL,
		category    TEXT NOT NULL,
		description TEXT,
		stock       INT NOT NULL DEFAULT 0,
		rating      NUMERIC(2,1),
		tags        TEXT[] NOT NULL DEFAULT '{}',
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX idx_perf_category ON performance_test (category)`,
	`CREATE INDEX idx_perf_price ON performance_test (price)`,
	`CREATE INDEX idx_perf_created_at ON performance_test (created_at)`,
	`CREATE INDEX idx_perf_rating ON performance_test (rating)`,
	`CREATE INDEX idx_perf_tags ON performance_test USING GIN (tags)`,
}

// Every table any experiment creates, dependents first.
var allTables = []string{
	"product_reviews", "product_variants", "product_analytics", "products_complex", "products",
	"performance_test",
	"payments", "order_items", "orders", "orders_unchecked", "inventory", "catalog_products", "customers",
}

// Postgres is the relational store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ harness.Store = (*Postgres)(nil)

// OpenPostgres creates a connection pool for connString and pings it.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Backend() harness.Backend { return harness.PostgreSQL }

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Reset(ctx context.Context) error {
	tables := make([]string, len(allTables))
	for i, t := range allTables {
		tables[i] = pgx.Identifier{t}.Sanitize()
	}

	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}

	return nil
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()

	return nil
}

func (p *Postgres) PrepareProducts(ctx context.Context) error {
	return p.execAll(ctx, productTables)
}

func (p *Postgres) InsertProducts(ctx context.Context, products []workload.Product) (int64, error) {
	rows := make([][]any, len(products))
	for i, pr := range products {
		rows[i] = []any{pr.ID, pr.Name, pr.Price, pr.CreatedAt}
	}

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"products"},
		[]string{"id", "name", "price", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, pgRejection(fmt.Errorf("copy products: %w", err))
	}

	return n, nil
}

// InsertDocuments maps every document key onto a column of the products
// table. A key with no column fails the whole batch.
func (p *Postgres) InsertDocuments(ctx context.Context, docs []workload.Document) (int64, error) {
	var inserted int64

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		for _, d := range docs {
			cols := make([]string, len(d))
			params := make([]string, len(d))
			args := make([]any, len(d))

			for i, f := range d {
				cols[i] = pgx.Identifier{column(f.Key)}.Sanitize()
				params[i] = fmt.Sprintf("$%d", i+1)
				args[i] = pgValue(f.Value)
			}

			batch.Queue(fmt.Sprintf("INSERT INTO products (%s) VALUES (%s)",
				strings.Join(cols, ", "), strings.Join(params, ", ")), args...)
		}

		br := tx.SendBatch(ctx, batch)
		for range docs {
			tag, err := br.Exec()
			if err != nil {
				br.Close()

				return fmt.Errorf("insert document: %w", err)
			}

			inserted += tag.RowsAffected()
		}

		return br.Close()
	})
	if isUndefinedColumn(err) {
		return 0, fmt.Errorf("products has no column for a document field: %w", err)
	}

	if err != nil {
		return 0, pgRejection(err)
	}

	return inserted, nil
}

// Migrate adds a column for every document key the products table lacks.
// The column type follows the first value seen for the key.
func (p *Postgres) Migrate(ctx context.Context, docs []workload.Document) (int64, error) {
	var added int64

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = 'products'`)
		if err != nil {
			return fmt.Errorf("list columns: %w", err)
		}

		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("list columns: %w", err)
		}

		existing := make(map[string]bool, len(names))
		for _, n := range names {
			existing[n] = true
		}

		for _, key := range workload.UnionKeys(docs) {
			col := column(key)
			if existing[col] {
				continue
			}

			stmt := fmt.Sprintf("ALTER TABLE products ADD COLUMN %s %s",
				pgx.Identifier{col}.Sanitize(), pgType(firstValue(docs, key)))
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s: %w", col, err)
			}

			existing[col] = true
			added++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return added, nil
}

// InsertNested writes each product across the normalized child tables in
// one transaction and returns the total number of rows written.
func (p *Postgres) InsertNested(ctx context.Context, products []workload.NestedProduct) (int64, error) {
	var written int64

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		for _, pr := range products {
			batch.Queue(`INSERT INTO products_complex (id, name, price, category, created_at)
				VALUES ($1, $2, $3, $4, $5)`, pr.ID, pr.Name, pr.Price, pr.Category, pr.CreatedAt)

			for _, r := range pr.Reviews {
				batch.Queue(`INSERT INTO product_reviews (product_id, reviewer, rating, comment, verified, review_date)
					VALUES ($1, $2, $3, $4, $5, $6)`, pr.ID, r.Reviewer, r.Rating, r.Comment, r.Verified, r.Date)
			}

			for _, v := range pr.Variants {
				batch.Queue(`INSERT INTO product_variants (sku, product_id, color, size, stock, price_modifier)
					VALUES ($1, $2, $3, $4, $5, $6)`, v.SKU, pr.ID, v.Color, v.Size, v.Stock, v.PriceModifier)
			}

			a := pr.Analytics
			batch.Queue(`INSERT INTO product_analytics (product_id, views, purchases, conversion_rate, last_updated)
				VALUES ($1, $2, $3, $4, $5)`, pr.ID, a.Views, a.Purchases, a.ConversionRate, a.LastUpdated)
		}

		br := tx.SendBatch(ctx, batch)
		for range batch.Len() {
			tag, err := br.Exec()
			if err != nil {
				br.Close()

				return fmt.Errorf("insert nested product: %w", err)
			}

			written += tag.RowsAffected()
		}

		return br.Close()
	})
	if err != nil {
		return 0, pgRejection(err)
	}

	return written, nil
}

func (p *Postgres) QueryProducts(ctx context.Context, q workload.Query) (int64, error) {
	var (
		sql  string
		args []any
	)

	switch q {
	case workload.QueryPriceRange:
		sql = `SELECT (SELECT count(*) FROM products WHERE price BETWEEN $1 AND $2)
			+ (SELECT count(*) FROM products_complex WHERE price BETWEEN $1 AND $2)`
		args = []any{workload.FilterFlexMinPrice, workload.FilterFlexMaxPrice}
	case workload.QueryCategory:
		sql = `SELECT (SELECT count(*) FROM products WHERE category = $1)
			+ (SELECT count(*) FROM products_complex WHERE category = $1)`
		args = []any{workload.FilterCategory}
	case workload.QueryNestedField:
		sql = `SELECT count(*) FROM products WHERE specs->>'color' = $1`
		args = []any{workload.FilterColor}
	case workload.QueryFieldExists:
		sql = fmt.Sprintf("SELECT count(*) FROM products WHERE %s IS NOT NULL",
			pgx.Identifier{workload.FilterField}.Sanitize())
	case workload.QueryArrayMatch:
		sql = `SELECT count(DISTINCT product_id) FROM product_reviews WHERE rating >= $1`
		args = []any{workload.FilterMinReview}
	case workload.QueryMultiLevel:
		sql = `SELECT count(*) FROM product_analytics WHERE views > $1`
		args = []any{workload.FilterMinViews}
	default:
		return 0, fmt.Errorf("unsupported product query %q", q)
	}

	return p.count(ctx, sql, args...)
}

func (p *Postgres) PrepareRecords(ctx context.Context) error {
	return p.execAll(ctx, recordTables)
}

func (p *Postgres) InsertRecords(ctx context.Context, records []workload.Record) (int64, error) {
	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"performance_test"},
		[]string{"id", "name", "price", "category", "description", "stock", "rating", "tags", "created_at"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]

			return []any{r.ID, r.Name, r.Price, r.Category, r.Description, r.Stock, r.Rating, r.Tags, r.CreatedAt}, nil
		}),
	)
	if err != nil {
		return 0, pgRejection(fmt.Errorf("copy records: %w", err))
	}

	return n, nil
}

func (p *Postgres) CountRecords(ctx context.Context, q workload.Query) (int64, error) {
	var (
		where string
		args  []any
	)

	switch q {
	case workload.QueryAll:
		where = "TRUE"
	case workload.QueryByCategory:
		where, args = "category = $1", []any{workload.FilterCategory}
	case workload.QueryByPriceRange:
		where, args = "price BETWEEN $1 AND $2", []any{workload.FilterPerfMinPrice, workload.FilterPerfMaxPrice}
	case workload.QueryNameContains:
		where, args = "name LIKE '%' || $1 || '%'", []any{workload.FilterNameFragment}
	case workload.QueryHighRated:
		where, args = "category = $1 AND rating >= $2", []any{workload.FilterCategory, workload.FilterMinRating}
	case workload.QueryHasTag:
		where, args = "$1 = ANY(tags)", []any{workload.FilterTag}
	default:
		return 0, fmt.Errorf("unsupported record query %q", q)
	}

	return p.count(ctx, "SELECT count(*) FROM performance_test WHERE "+where, args...)
}

func (p *Postgres) FindRecord(ctx context.Context, id string) (int64, error) {
	var name string

	err := p.pool.QueryRow(ctx, `SELECT name FROM performance_test WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("find %s: %w", id, err)
	}

	return 1, nil
}

func (p *Postgres) IncreasePrice(ctx context.Context, category string, delta float64) (int64, error) {
	return p.exec(ctx, `UPDATE performance_test SET price = price + $2 WHERE category = $1`, category, delta)
}

func (p *Postgres) FlagForReview(ctx context.Context, below float64, at time.Time) (int64, error) {
	return p.exec(ctx, `UPDATE performance_test SET status = 'review_needed', updated_at = $2
		WHERE rating < $1`, below, at)
}

func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return p.exec(ctx, `DELETE FROM performance_test WHERE created_at < $1`, cutoff)
}

func (p *Postgres) execAll(ctx context.Context, stmts []string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}

		return nil
	})
}

func (p *Postgres) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, pgRejection(err)
	}

	return tag.RowsAffected(), nil
}

func (p *Postgres) count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

// pgRejection marks integrity constraint violations (SQLSTATE class 23)
// as rejections. Everything else, including undefined columns, stays a
// failure.
func pgRejection(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		rule := pgErr.ConstraintName
		if rule == "" {
			rule = pgErr.Code
		}

		return harness.Reject(rule, err)
	}

	return err
}

// column maps a document key onto a column name.
func column(key string) string {
	if key == "_id" {
		return "id"
	}

	return key
}

func pgValue(v any) any {
	switch val := v.(type) {
	case workload.Document:
		return val.Map()
	case []workload.Document:
		out := make([]map[string]any, len(val))
		for i, d := range val {
			out[i] = d.Map()
		}

		return out
	default:
		return v
	}
}

func pgType(v any) string {
	switch v.(type) {
	case string:
		return "TEXT"
	case int, int64:
		return "BIGINT"
	case float64:
		return "DOUBLE PRECISION"
	case bool:
		return "BOOLEAN"
	case time.Time:
		return "TIMESTAMPTZ"
	case []string:
		return "TEXT[]"
	default:
		return "JSONB"
	}
}

func firstValue(docs []workload.Document, key string) any {
	for _, d := range docs {
		if v, ok := d.Get(key); ok {
			return v
		}
	}

	return nil
}

// isUndefinedColumn reports whether err came from a missing column.
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedColumn
}
