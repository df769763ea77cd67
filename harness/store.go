package harness

import (
	"context"
	"time"

	"github.com/weiihann/dbcompare/workload"
)

// Store is one database under test. Every method translates a
// backend-neutral operation into the backend's native form. Methods that
// write return the number of rows or documents they affected.
//
// A method returns a *RejectionError when the database refuses the
// operation because it breaks a declared rule, and any other error when
// the operation failed.
type Store interface {
	Backend() Backend
	Ping(ctx context.Context) error
	// Reset drops everything the experiments may have created.
	Reset(ctx context.Context) error
	Close(ctx context.Context) error

	ProductStore
	RecordStore
	IntegrityStore
}

// ProductStore covers the schema flexibility experiments.
type ProductStore interface {
	// PrepareProducts creates the fixed-shape products store.
	PrepareProducts(ctx context.Context) error
	InsertProducts(ctx context.Context, products []workload.Product) (int64, error)
	// InsertDocuments inserts schema-less documents into the products
	// store without changing its declared shape.
	InsertDocuments(ctx context.Context, docs []workload.Document) (int64, error)
	// Migrate changes the products store so that docs fit. It returns the
	// number of schema changes applied.
	Migrate(ctx context.Context, docs []workload.Document) (int64, error)
	InsertNested(ctx context.Context, products []workload.NestedProduct) (int64, error)
	// QueryProducts returns the number of products matching q.
	QueryProducts(ctx context.Context, q workload.Query) (int64, error)
}

// RecordStore covers the CRUD performance experiments.
type RecordStore interface {
	PrepareRecords(ctx context.Context) error
	InsertRecords(ctx context.Context, records []workload.Record) (int64, error)
	// CountRecords returns the number of records matching q.
	CountRecords(ctx context.Context, q workload.Query) (int64, error)
	FindRecord(ctx context.Context, id string) (int64, error)
	IncreasePrice(ctx context.Context, category string, delta float64) (int64, error)
	FlagForReview(ctx context.Context, below float64, at time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IntegrityStore covers the data integrity experiments. Its collections
// or tables declare the customer, price and stock rules.
type IntegrityStore interface {
	PrepareIntegrity(ctx context.Context) error
	InsertCustomer(ctx context.Context, c workload.Customer) error
	InsertCatalogProduct(ctx context.Context, p workload.CatalogProduct) error
	SeedInventory(ctx context.Context, items []workload.InventoryItem) error
	// PlaceOrder reserves stock, creates the order and records the payment
	// as one all-or-nothing unit. With failPayment set the payment step
	// fails with ErrInjectedFailure.
	PlaceOrder(ctx context.Context, o workload.Order, p workload.Payment, failPayment bool) error
	Stock(ctx context.Context, productID string) (int, error)
	OrderExists(ctx context.Context, orderID string) (bool, error)
	PaymentExists(ctx context.Context, paymentID string) (bool, error)
	// CreateOrder inserts an order after checking that its customer and
	// products exist.
	CreateOrder(ctx context.Context, o workload.Order) error
	// CreatePayment inserts a payment after checking that its order exists
	// and the amount matches the order total.
	CreatePayment(ctx context.Context, p workload.Payment) error
	// InsertUncheckedOrder writes an order into a store with no rules.
	InsertUncheckedOrder(ctx context.Context, o workload.Order) error
}
