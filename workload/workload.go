// Package workload generates the deterministic product, order and
// customer data sets that every experiment inserts into both databases.
// Two generators built from the same Config produce identical data, so the
// document store and the relational store always see the same records.
package workload

import (
	"fmt"
	"math"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"
)

// Categories used by the performance records.
var Categories = []string{"electronics", "books", "clothing", "home", "sports"}

// Tags sampled onto performance records.
var Tags = []string{"featured", "sale", "new", "popular", "limited"}

var colors = []string{"Black", "White", "Silver", "Blue", "Red"}

// Config controls workload generation parameters.
type Config struct {
	Seed int64
	// Now anchors every generated timestamp. Zero means time.Now().
	Now time.Time
}

// Generator produces deterministic data sets from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	cfg.Now = cfg.Now.UTC().Truncate(time.Millisecond)

	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Now returns the anchor time used for generated timestamps.
func (g *Generator) Now() time.Time {
	return g.cfg.Now
}

// Product is the fixed four-field shape used by the basic schema test.
type Product struct {
	ID        string
	Name      string
	Price     float64
	CreatedAt time.Time
}

// Document returns p as a schema-less document.
func (p Product) Document() Document {
	return Document{
		{Key: "_id", Value: p.ID},
		{Key: "name", Value: p.Name},
		{Key: "price", Value: p.Price},
		{Key: "created_at", Value: p.CreatedAt},
	}
}

// BasicProducts returns n fixed-shape products.
func (g *Generator) BasicProducts(n int) []Product {
	products := make([]Product, n)
	for i := range products {
		products[i] = Product{
			ID:        fmt.Sprintf("basic_%03d", i+1),
			Name:      fmt.Sprintf("Basic Product %d", i+1),
			Price:     g.price(10, 500),
			CreatedAt: g.cfg.Now,
		}
	}

	return products
}

// EvolvedProducts returns n products whose shape depends on their
// category. Electronics carry a nested specs object, books carry authors
// and genres, clothing carries size and color arrays.
func (g *Generator) EvolvedProducts(n int) []Document {
	docs := make([]Document, n)

	for i := range docs {
		doc := Document{
			{Key: "_id", Value: fmt.Sprintf("enhanced_%03d", i+1)},
			{Key: "name", Value: fmt.Sprintf("Enhanced Product %d", i+1)},
			{Key: "price", Value: g.price(10, 500)},
			{Key: "created_at", Value: g.cfg.Now},
		}

		switch i % 3 {
		case 0:
			doc = append(doc,
				Field{Key: "category", Value: "electronics"},
				Field{Key: "specs", Value: Document{
					{Key: "brand", Value: fmt.Sprintf("Brand%d", g.rng.Intn(10)+1)},
					{Key: "model", Value: fmt.Sprintf("M-%04d", g.rng.Intn(10000))},
					{Key: "color", Value: colors[g.rng.Intn(len(colors))]},
					{Key: "warranty_years", Value: g.rng.Intn(3) + 1},
				}},
				Field{Key: "tags", Value: g.tags()},
			)
		case 1:
			doc = append(doc,
				Field{Key: "category", Value: "books"},
				Field{Key: "author", Value: fmt.Sprintf("Author %d", g.rng.Intn(50)+1)},
				Field{Key: "isbn", Value: fmt.Sprintf("978-%010d", g.rng.Int63n(1e10))},
				Field{Key: "pages", Value: g.rng.Intn(900) + 100},
				Field{Key: "genres", Value: []string{"fiction", "classic"}[:g.rng.Intn(2)+1]},
			)
		default:
			doc = append(doc,
				Field{Key: "category", Value: "clothing"},
				Field{Key: "sizes", Value: []string{"S", "M", "L", "XL"}[:g.rng.Intn(4)+1]},
				Field{Key: "colors", Value: []string{colors[g.rng.Intn(len(colors))]}},
				Field{Key: "material", Value: []string{"cotton", "wool", "linen"}[g.rng.Intn(3)]},
			)
		}

		docs[i] = doc
	}

	return docs
}

// Review is one customer review of a nested product.
type Review struct {
	Reviewer string
	Rating   int
	Comment  string
	Verified bool
	Date     time.Time
}

// Variant is a purchasable variation of a nested product.
type Variant struct {
	SKU           string
	Color         string
	Size          string
	Stock         int
	PriceModifier float64
}

// Analytics holds the per-product counters of a nested product.
type Analytics struct {
	Views          int
	Purchases      int
	ConversionRate float64
	LastUpdated    time.Time
}

// NestedProduct is a product with embedded reviews, variants and analytics.
type NestedProduct struct {
	ID        string
	Name      string
	Price     float64
	Category  string
	CreatedAt time.Time
	Reviews   []Review
	Variants  []Variant
	Analytics Analytics
}

// Document returns p with its children embedded.
func (p NestedProduct) Document() Document {
	reviews := make([]Document, len(p.Reviews))
	for i, r := range p.Reviews {
		reviews[i] = Document{
			{Key: "reviewer", Value: r.Reviewer},
			{Key: "rating", Value: r.Rating},
			{Key: "comment", Value: r.Comment},
			{Key: "verified", Value: r.Verified},
			{Key: "date", Value: r.Date},
		}
	}

	variants := make([]Document, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = Document{
			{Key: "sku", Value: v.SKU},
			{Key: "color", Value: v.Color},
			{Key: "size", Value: v.Size},
			{Key: "stock", Value: v.Stock},
			{Key: "price_modifier", Value: v.PriceModifier},
		}
	}

	return Document{
		{Key: "_id", Value: p.ID},
		{Key: "name", Value: p.Name},
		{Key: "price", Value: p.Price},
		{Key: "category", Value: p.Category},
		{Key: "created_at", Value: p.CreatedAt},
		{Key: "reviews", Value: reviews},
		{Key: "variants", Value: variants},
		{Key: "analytics", Value: Document{
			{Key: "views", Value: p.Analytics.Views},
			{Key: "purchases", Value: p.Analytics.Purchases},
			{Key: "conversion_rate", Value: p.Analytics.ConversionRate},
			{Key: "last_updated", Value: p.Analytics.LastUpdated},
		}},
	}
}

// NestedProducts returns n products with one to five reviews and one to
// three variants each.
func (g *Generator) NestedProducts(n int) []NestedProduct {
	products := make([]NestedProduct, n)

	for i := range products {
		id := fmt.Sprintf("complex_%03d", i+1)

		reviews := make([]Review, g.rng.Intn(5)+1)
		for j := range reviews {
			reviews[j] = Review{
				Reviewer: fmt.Sprintf("user_%d", g.rng.Intn(1000)),
				Rating:   g.rng.Intn(5) + 1,
				Comment:  fmt.Sprintf("Review %d for %s", j+1, id),
				Verified: g.rng.Intn(2) == 0,
				Date:     g.daysAgo(90),
			}
		}

		variants := make([]Variant, g.rng.Intn(3)+1)
		for j := range variants {
			variants[j] = Variant{
				SKU:           fmt.Sprintf("%s-V%d", id, j+1),
				Color:         colors[g.rng.Intn(len(colors))],
				Size:          []string{"S", "M", "L"}[g.rng.Intn(3)],
				Stock:         g.rng.Intn(100),
				PriceModifier: round2(g.rng.Float64() * 20),
			}
		}

		views := g.rng.Intn(5000)
		purchases := g.rng.Intn(views/10 + 1)

		products[i] = NestedProduct{
			ID:        id,
			Name:      fmt.Sprintf("Complex Product %d", i+1),
			Price:     g.price(20, 800),
			Category:  Categories[i%len(Categories)],
			CreatedAt: g.cfg.Now,
			Reviews:   reviews,
			Variants:  variants,
			Analytics: Analytics{
				Views:          views,
				Purchases:      purchases,
				ConversionRate: rate(purchases, views),
				LastUpdated:    g.cfg.Now,
			},
		}
	}

	return products
}

// Record is one row of the CRUD performance data set.
type Record struct {
	ID          string
	Name        string
	Price       float64
	Category    string
	Description string
	Stock       int
	Rating      float64
	Tags        []string
	CreatedAt   time.Time
}

// Records returns size records spread over the last 365 days.
func (g *Generator) Records(size int) []Record {
	records := make([]Record, size)

	for i := range records {
		records[i] = Record{
			ID:          fmt.Sprintf("perf_%d_%06d", size, i+1),
			Name:        fmt.Sprintf("Product %d", i+1),
			Price:       g.price(10, 1000),
			Category:    Categories[g.rng.Intn(len(Categories))],
			Description: fmt.Sprintf("Synthetic product %d of %d", i+1, size),
			Stock:       g.rng.Intn(1000),
			Rating:      math.Round((1+g.rng.Float64()*4)*10) / 10,
			Tags:        g.tags(),
			CreatedAt:   g.daysAgo(365),
		}
	}

	return records
}

// Customer is a customer of the integrity experiments.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CustomerID formats the canonical customer identifier.
func CustomerID(n int) string {
	return fmt.Sprintf("CUST_%06d", n)
}

// ProductID formats the canonical inventory product identifier.
func ProductID(n int) string {
	return fmt.Sprintf("PROD_%06d", n)
}

// Customer returns a customer that satisfies every validation rule.
func (g *Generator) Customer(n int) Customer {
	return Customer{
		ID:        CustomerID(n),
		Email:     fmt.Sprintf("customer%d@example.com", n),
		Name:      fmt.Sprintf("Customer %d", n),
		CreatedAt: g.cfg.Now,
	}
}

// InvalidCustomers returns customers that each break exactly one rule:
// the id pattern, the email pattern and the minimum name length.
func (g *Generator) InvalidCustomers() []Customer {
	return []Customer{
		{ID: "INVALID_ID", Email: "bad-id@example.com", Name: "Bad Id", CreatedAt: g.cfg.Now},
		{ID: CustomerID(900001), Email: "not-an-email", Name: "Bad Email", CreatedAt: g.cfg.Now},
		{ID: CustomerID(900002), Email: "short@example.com", Name: "A", CreatedAt: g.cfg.Now},
	}
}

// CatalogProduct is a product subject to the non-negative price rule.
type CatalogProduct struct {
	ID    string
	Name  string
	Price float64
}

// InventoryItem is the stock level and unit price of a product.
type InventoryItem struct {
	ProductID string
	Stock     int
	UnitPrice float64
}

// Inventory returns n inventory items, each stocked with stock units.
func (g *Generator) Inventory(n, stock int) []InventoryItem {
	items := make([]InventoryItem, n)
	for i := range items {
		items[i] = InventoryItem{
			ProductID: ProductID(i + 1),
			Stock:     stock,
			UnitPrice: 20,
		}
	}

	return items
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

// Order is a customer order.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	Total      float64
	Status     string
	CreatedAt  time.Time
}

// Order builds an order whose total is the sum of its lines.
func (g *Generator) Order(id, customerID string, items ...OrderItem) Order {
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * it.UnitPrice
	}

	return Order{
		ID:         id,
		CustomerID: customerID,
		Items:      items,
		Total:      round2(total),
		Status:     "pending",
		CreatedAt:  g.cfg.Now,
	}
}

// Payment settles an order.
type Payment struct {
	ID        string
	OrderID   string
	Amount    float64
	Method    string
	Status    string
	Reference string
	CreatedAt time.Time
}

// Payment builds a payment of amount for orderID. The reference is a
// UUID drawn from the seeded source, so it is reproducible.
func (g *Generator) Payment(id, orderID string, amount float64) Payment {
	ref, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		ref = uuid.Nil
	}

	return Payment{
		ID:        id,
		OrderID:   orderID,
		Amount:    amount,
		Method:    "credit_card",
		Status:    "completed",
		Reference: ref.String(),
		CreatedAt: g.cfg.Now,
	}
}

func (g *Generator) price(lo, hi float64) float64 {
	return round2(lo + g.rng.Float64()*(hi-lo))
}

func (g *Generator) daysAgo(maxDays int) time.Time {
	offset := time.Duration(g.rng.Int63n(int64(maxDays) * int64(24*time.Hour)))

	return g.cfg.Now.Add(-offset).Truncate(time.Millisecond)
}

func (g *Generator) tags() []string {
	n := g.rng.Intn(3) + 1
	perm := g.rng.Perm(len(Tags))
	tags := make([]string, n)
	for i := range tags {
		tags[i] = Tags[perm[i]]
	}

	return tags
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}

	return math.Round(float64(num)/float64(den)*10000) / 10000
}
