package backend_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/dbcompare/backend"
	"github.com/weiihann/dbcompare/config"
	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/workload"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if u := os.Getenv("TEST_DATABASE_URL"); u != "" {
		return u
	}

	t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL integration test")

	return ""
}

func getTestMongoURI(t *testing.T) string {
	t.Helper()

	if u := os.Getenv("TEST_MONGODB_URI"); u != "" {
		return u
	}

	t.Skip("TEST_MONGODB_URI not set, skipping MongoDB integration test")

	return ""
}

// setupPostgres opens a store confined to a fresh schema that is dropped
// when the test ends.
func setupPostgres(t *testing.T) *backend.Postgres {
	t.Helper()

	ctx := context.Background()
	databaseURL := getTestDatabaseURL(t)
	schema := "dbcompare_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	conn, err := pgx.Connect(ctx, databaseURL)
	require.NoError(t, err, "should connect to database for schema creation")

	_, err = conn.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err, "should create test schema")

	t.Cleanup(func() {
		_, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		if err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
		conn.Close(ctx)
	})

	store, err := backend.OpenPostgres(ctx, withSearchPath(databaseURL, schema))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })

	return store
}

func withSearchPath(databaseURL, schema string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Scheme == "" {
		return fmt.Sprintf("%s search_path=%s", databaseURL, schema)
	}

	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	return u.String()
}

func setupMongo(t *testing.T) *backend.Mongo {
	t.Helper()

	ctx := context.Background()
	database := "dbcompare_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	store, err := backend.OpenMongo(ctx, getTestMongoURI(t), database)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := store.Reset(ctx); err != nil {
			t.Logf("failed to drop database %s: %v", database, err)
		}
		store.Close(ctx)
	})

	return store
}

func runPlan(t *testing.T, store harness.Store) map[string]harness.ExperimentResult {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	plan := harness.Plan(harness.PlanConfig{Sizes: []int{200}, Seed: 42, Now: testNow})

	results := harness.NewRunner(store, logger).Run(context.Background(), harness.RunConfig{}, plan)
	require.Len(t, results, len(plan))

	byName := make(map[string]harness.ExperimentResult, len(results))
	for _, r := range results {
		assert.Truef(t, r.Completed(), "%s: %s", r.Name, r.Error)
		byName[r.Name] = r
	}

	return byName
}

func TestPostgresPlan(t *testing.T) {
	results := runPlan(t, setupPostgres(t))

	evolution := results["schema_evolution"]
	assert.False(t, evolution.Checks["accepts_new_fields_without_migration"])
	assert.True(t, evolution.Checks["schema_evolution_completed"])
	assert.Equal(t, 1, evolution.Summary.ByKind[harness.OpMigrate].Succeeded)

	assert.True(t, results["query_flexibility"].Checks["queries_all_shapes"])
	assert.False(t, results["nested_structures"].Checks["nested_single_write"])
	assert.True(t, results["crud_200"].Checks["consistent_after_crud"])

	assert.True(t, results["validation_rules"].Checks["rejects_invalid_records"])
	assert.True(t, results["order_transactions"].Checks["rolls_back_atomically"])
	assert.True(t, results["order_transactions"].Checks["commits_transactions"])
	assert.True(t, results["referential_integrity"].Checks["enforces_references"])
	assert.True(t, results["referential_integrity"].Checks["enforces_business_rules"])
}

func TestPostgresRejectsNegativePrice(t *testing.T) {
	ctx := context.Background()
	store := setupPostgres(t)

	require.NoError(t, store.PrepareIntegrity(ctx))

	err := store.InsertCatalogProduct(ctx, workload.CatalogProduct{ID: "CAT_1", Name: "Negative", Price: -10})

	var rej *harness.RejectionError
	require.True(t, errors.As(err, &rej), "got %v", err)
	assert.Equal(t, "price_non_negative", rej.Rule)
}

func TestPostgresRollbackKeepsStock(t *testing.T) {
	ctx := context.Background()
	store := setupPostgres(t)
	g := workload.NewGenerator(workload.Config{Seed: 1, Now: testNow})

	require.NoError(t, store.PrepareIntegrity(ctx))
	require.NoError(t, store.InsertCustomer(ctx, g.Customer(1)))
	require.NoError(t, store.SeedInventory(ctx, g.Inventory(1, 10)))

	order := g.Order("ORD_1", workload.CustomerID(1), workload.OrderItem{
		ProductID: workload.ProductID(1), Quantity: 5, UnitPrice: 20,
	})

	err := store.PlaceOrder(ctx, order, g.Payment("PAY_1", order.ID, order.Total), true)
	require.ErrorIs(t, err, harness.ErrInjectedFailure)

	stock, err := store.Stock(ctx, workload.ProductID(1))
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	found, err := store.OrderExists(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMongoPlan(t *testing.T) {
	results := runPlan(t, setupMongo(t))

	evolution := results["schema_evolution"]
	assert.True(t, evolution.Checks["accepts_new_fields_without_migration"])
	assert.NotContains(t, evolution.Summary.ByKind, harness.OpMigrate)

	assert.True(t, results["nested_structures"].Checks["nested_single_write"])
	assert.True(t, results["query_flexibility"].Checks["queries_all_shapes"])
	assert.True(t, results["crud_200"].Checks["consistent_after_crud"])
	assert.True(t, results["validation_rules"].Checks["rejects_invalid_records"])
	assert.True(t, results["referential_integrity"].Checks["enforces_references"])

	// Multi-document transactions need a replica set; a standalone server
	// fails them, which shows up as failed operations rather than errors.
	t.Logf("order_transactions checks: %v", results["order_transactions"].Checks)
}

func TestOpenUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 1
	cfg.Postgres.Database = "none"
	cfg.Postgres.User = "none"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := backend.Open(ctx, cfg, harness.PostgreSQL)

	var connErr *harness.ConnectionError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Equal(t, harness.PostgreSQL, connErr.Backend)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := backend.Open(context.Background(), config.DefaultConfig(), harness.Backend("sqlite"))

	var connErr *harness.ConnectionError
	require.True(t, errors.As(err, &connErr))
}
