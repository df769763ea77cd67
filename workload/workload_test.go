package workload

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"
)

var anchor = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Seed: 42, Now: anchor}

	gen1 := NewGenerator(cfg)
	gen2 := NewGenerator(cfg)

	if !reflect.DeepEqual(gen1.Records(50), gen2.Records(50)) {
		t.Error("records are not deterministic for same seed")
	}

	if !reflect.DeepEqual(gen1.EvolvedProducts(30), gen2.EvolvedProducts(30)) {
		t.Error("evolved products are not deterministic for same seed")
	}

	p1 := gen1.Payment("PAY_1", "ORD_1", 10)
	p2 := gen2.Payment("PAY_1", "ORD_1", 10)
	if p1.Reference != p2.Reference {
		t.Errorf("payment reference = %q, want %q", p1.Reference, p2.Reference)
	}
}

func TestGenerateDifferentSeeds(t *testing.T) {
	r1 := NewGenerator(Config{Seed: 1, Now: anchor}).Records(20)
	r2 := NewGenerator(Config{Seed: 2, Now: anchor}).Records(20)

	if reflect.DeepEqual(r1, r2) {
		t.Error("different seeds produced identical records")
	}
}

func TestRecords(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "small", size: 10},
		{name: "thousand", size: 1000},
		{name: "empty", size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := NewGenerator(Config{Seed: 7, Now: anchor}).Records(tt.size)

			if len(records) != tt.size {
				t.Fatalf("len(records) = %d, want %d", len(records), tt.size)
			}

			ids := make(map[string]bool, len(records))
			oldest := anchor.Add(-365 * 24 * time.Hour)

			for _, r := range records {
				if ids[r.ID] {
					t.Errorf("duplicate id %q", r.ID)
				}
				ids[r.ID] = true

				if r.Price < 10 || r.Price > 1000 {
					t.Errorf("price = %v, want within [10, 1000]", r.Price)
				}
				if r.Rating < 1 || r.Rating > 5 {
					t.Errorf("rating = %v, want within [1, 5]", r.Rating)
				}
				if r.CreatedAt.After(anchor) || r.CreatedAt.Before(oldest) {
					t.Errorf("created_at = %v, want within the last year", r.CreatedAt)
				}
				if len(r.Tags) == 0 {
					t.Errorf("record %s has no tags", r.ID)
				}
			}
		})
	}
}

func TestEvolvedProductsShapes(t *testing.T) {
	docs := NewGenerator(Config{Seed: 42, Now: anchor}).EvolvedProducts(9)

	want := map[string]string{
		"electronics": "specs",
		"books":       "author",
		"clothing":    "sizes",
	}

	for _, d := range docs {
		cat, ok := d.Get("category")
		if !ok {
			t.Fatalf("document %v has no category", d.Keys())
		}

		field := want[cat.(string)]
		if _, ok := d.Get(field); !ok {
			t.Errorf("%s document missing %q", cat, field)
		}
	}

	keys := UnionKeys(docs)
	for _, k := range []string{"_id", "specs", "author", "sizes"} {
		if !contains(keys, k) {
			t.Errorf("UnionKeys() missing %q", k)
		}
	}
}

func TestNestedProductDocument(t *testing.T) {
	p := NewGenerator(Config{Seed: 3, Now: anchor}).NestedProducts(1)[0]
	doc := p.Document()

	reviews, ok := doc.Get("reviews")
	if !ok {
		t.Fatal("document missing reviews")
	}
	if got := len(reviews.([]Document)); got != len(p.Reviews) {
		t.Errorf("len(reviews) = %d, want %d", got, len(p.Reviews))
	}

	m := doc.Map()
	analytics, ok := m["analytics"].(map[string]any)
	if !ok {
		t.Fatalf("analytics = %T, want map", m["analytics"])
	}
	if analytics["views"] != p.Analytics.Views {
		t.Errorf("views = %v, want %d", analytics["views"], p.Analytics.Views)
	}
}

func TestInvalidCustomersBreakOneRule(t *testing.T) {
	idRe := regexp.MustCompile(`^CUST_[0-9]{6}$`)
	emailRe := regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	g := NewGenerator(Config{Seed: 1, Now: anchor})

	valid := g.Customer(1)
	if !idRe.MatchString(valid.ID) || !emailRe.MatchString(valid.Email) {
		t.Fatalf("valid customer %+v breaks a rule", valid)
	}

	for _, c := range g.InvalidCustomers() {
		broken := 0
		if !idRe.MatchString(c.ID) {
			broken++
		}
		if !emailRe.MatchString(c.Email) {
			broken++
		}
		if n := len(strings.TrimSpace(c.Name)); n < 2 || n > 100 {
			broken++
		}

		if broken != 1 {
			t.Errorf("customer %+v breaks %d rules, want 1", c, broken)
		}
	}
}

func TestOrderTotal(t *testing.T) {
	g := NewGenerator(Config{Seed: 1, Now: anchor})
	o := g.Order("ORD_1", CustomerID(1),
		OrderItem{ProductID: ProductID(1), Quantity: 5, UnitPrice: 20},
		OrderItem{ProductID: ProductID(2), Quantity: 1, UnitPrice: 2.5},
	)

	if o.Total != 102.5 {
		t.Errorf("total = %v, want 102.5", o.Total)
	}
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}

	return false
}
