package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/weiihann/dbcompare/workload"
)

var (
	customerIDPattern = regexp.MustCompile(`^CUST_[0-9]{6}$`)
	emailPattern      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// memStore is an in-memory Store. With fixedSchema set it refuses
// documents carrying fields it does not know until Migrate is called, the
// way a relational table does.
type memStore struct {
	backend     Backend
	fixedSchema bool

	pingErr  error
	resetErr error
	resets   int

	columns   map[string]bool
	products  map[string]workload.Document
	records   map[string]workload.Record
	customers map[string]workload.Customer
	inventory map[string]int
	orders    map[string]workload.Order
	payments  map[string]workload.Payment
	unchecked int
}

func newMemStore(backend Backend, fixedSchema bool) *memStore {
	s := &memStore{backend: backend, fixedSchema: fixedSchema}
	s.clear()

	return s
}

func (s *memStore) clear() {
	s.columns = map[string]bool{"_id": true, "name": true, "price": true, "created_at": true}
	s.products = make(map[string]workload.Document)
	s.records = make(map[string]workload.Record)
	s.customers = make(map[string]workload.Customer)
	s.inventory = make(map[string]int)
	s.orders = make(map[string]workload.Order)
	s.payments = make(map[string]workload.Payment)
	s.unchecked = 0
}

func (s *memStore) Backend() Backend { return s.backend }

func (s *memStore) Ping(context.Context) error { return s.pingErr }

func (s *memStore) Reset(context.Context) error {
	s.resets++
	if s.resetErr != nil {
		return s.resetErr
	}

	s.clear()

	return nil
}

func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) PrepareProducts(context.Context) error { return nil }

func (s *memStore) InsertProducts(ctx context.Context, products []workload.Product) (int64, error) {
	docs := make([]workload.Document, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}

	return s.InsertDocuments(ctx, docs)
}

func (s *memStore) InsertDocuments(_ context.Context, docs []workload.Document) (int64, error) {
	if s.fixedSchema {
		for _, k := range workload.UnionKeys(docs) {
			if !s.columns[k] {
				return 0, fmt.Errorf("column %q does not exist", k)
			}
		}
	}

	for _, d := range docs {
		id, _ := d.Get("_id")
		s.products[id.(string)] = d
	}

	return int64(len(docs)), nil
}

func (s *memStore) Migrate(_ context.Context, docs []workload.Document) (int64, error) {
	var added int64

	for _, k := range workload.UnionKeys(docs) {
		if !s.columns[k] {
			s.columns[k] = true
			added++
		}
	}

	return added, nil
}

func (s *memStore) InsertNested(_ context.Context, products []workload.NestedProduct) (int64, error) {
	var rows int64

	for _, p := range products {
		s.products[p.ID] = p.Document()
		rows++

		if s.fixedSchema {
			rows += int64(len(p.Reviews) + len(p.Variants) + 1)
		}
	}

	return rows, nil
}

func (s *memStore) QueryProducts(_ context.Context, q workload.Query) (int64, error) {
	if s.fixedSchema && q == workload.QueryCategory && !s.columns["category"] {
		return 0, errors.New(`column "category" does not exist`)
	}

	return int64(len(s.products)), nil
}

func (s *memStore) PrepareRecords(context.Context) error { return nil }

func (s *memStore) InsertRecords(_ context.Context, records []workload.Record) (int64, error) {
	for _, r := range records {
		s.records[r.ID] = r
	}

	return int64(len(records)), nil
}

func (s *memStore) CountRecords(_ context.Context, q workload.Query) (int64, error) {
	var n int64

	for _, r := range s.records {
		var match bool

		switch q {
		case workload.QueryAll:
			match = true
		case workload.QueryByCategory:
			match = r.Category == workload.FilterCategory
		case workload.QueryByPriceRange:
			match = r.Price >= workload.FilterPerfMinPrice && r.Price <= workload.FilterPerfMaxPrice
		case workload.QueryNameContains:
			match = strings.Contains(r.Name, workload.FilterNameFragment)
		case workload.QueryHighRated:
			match = r.Category == workload.FilterCategory && r.Rating >= workload.FilterMinRating
		case workload.QueryHasTag:
			match = slices.Contains(r.Tags, workload.FilterTag)
		default:
			return 0, fmt.Errorf("unknown query %q", q)
		}

		if match {
			n++
		}
	}

	return n, nil
}

func (s *memStore) FindRecord(_ context.Context, id string) (int64, error) {
	if _, ok := s.records[id]; ok {
		return 1, nil
	}

	return 0, nil
}

func (s *memStore) IncreasePrice(_ context.Context, category string, delta float64) (int64, error) {
	var n int64

	for id, r := range s.records {
		if r.Category == category {
			r.Price += delta
			s.records[id] = r
			n++
		}
	}

	return n, nil
}

func (s *memStore) FlagForReview(_ context.Context, below float64, _ time.Time) (int64, error) {
	var n int64

	for _, r := range s.records {
		if r.Rating < below {
			n++
		}
	}

	return n, nil
}

func (s *memStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64

	for id, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}

	return n, nil
}

func (s *memStore) PrepareIntegrity(context.Context) error { return nil }

func (s *memStore) InsertCustomer(_ context.Context, c workload.Customer) error {
	switch {
	case !customerIDPattern.MatchString(c.ID):
		return Reject("customer id pattern", nil)
	case !emailPattern.MatchString(c.Email):
		return Reject("email pattern", nil)
	case len(c.Name) < 2 || len(c.Name) > 100:
		return Reject("name length", nil)
	}

	s.customers[c.ID] = c

	return nil
}

func (s *memStore) InsertCatalogProduct(_ context.Context, p workload.CatalogProduct) error {
	if p.Price < 0 {
		return Reject("non-negative price", nil)
	}

	return nil
}

func (s *memStore) SeedInventory(_ context.Context, items []workload.InventoryItem) error {
	for _, it := range items {
		s.inventory[it.ProductID] = it.Stock
	}

	return nil
}

func (s *memStore) PlaceOrder(_ context.Context, o workload.Order, p workload.Payment, failPayment bool) error {
	for _, it := range o.Items {
		if s.inventory[it.ProductID] < it.Quantity {
			return Reject("insufficient stock", nil)
		}
	}

	if failPayment {
		return ErrInjectedFailure
	}

	for _, it := range o.Items {
		s.inventory[it.ProductID] -= it.Quantity
	}

	s.orders[o.ID] = o
	s.payments[p.ID] = p

	return nil
}

func (s *memStore) Stock(_ context.Context, productID string) (int, error) {
	stock, ok := s.inventory[productID]
	if !ok {
		return 0, fmt.Errorf("no inventory for %s", productID)
	}

	return stock, nil
}

func (s *memStore) OrderExists(_ context.Context, id string) (bool, error) {
	_, ok := s.orders[id]

	return ok, nil
}

func (s *memStore) PaymentExists(_ context.Context, id string) (bool, error) {
	_, ok := s.payments[id]

	return ok, nil
}

func (s *memStore) CreateOrder(_ context.Context, o workload.Order) error {
	if _, ok := s.customers[o.CustomerID]; !ok {
		return Reject("order customer exists", nil)
	}

	for _, it := range o.Items {
		if _, ok := s.inventory[it.ProductID]; !ok {
			return Reject("order product exists", nil)
		}
	}

	s.orders[o.ID] = o

	return nil
}

func (s *memStore) CreatePayment(_ context.Context, p workload.Payment) error {
	o, ok := s.orders[p.OrderID]
	if !ok {
		return Reject("payment order exists", nil)
	}

	if o.Total != p.Amount {
		return Reject("payment amount matches order total", nil)
	}

	s.payments[p.ID] = p

	return nil
}

func (s *memStore) InsertUncheckedOrder(context.Context, workload.Order) error {
	s.unchecked++

	return nil
}
