package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiihann/dbcompare/workload"
)

const (
	overheadOrders       = 100
	overheadTransactions = 10
	oversellQuantity     = 99999
)

func validationRules(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		if err := s.PrepareIntegrity(ctx); err != nil {
			return fmt.Errorf("prepare integrity: %w", err)
		}

		g := gen()
		customer := g.Customer(1)

		validCustomer := rec.Time(OpCreate, "insert valid customer", exec(func(ctx context.Context) error {
			return s.InsertCustomer(ctx, customer)
		}))
		validProduct := rec.Time(OpCreate, "insert priced product", exec(func(ctx context.Context) error {
			return s.InsertCatalogProduct(ctx, workload.CatalogProduct{ID: "CAT_000001", Name: "Priced Product", Price: 19.99})
		}))

		labels := []string{"reject malformed customer id", "reject malformed email", "reject short name"}
		probes := make([]OperationTiming, 0, len(labels)+1)

		for i, c := range g.InvalidCustomers() {
			probes = append(probes, rec.Probe(ProbeValidation, OpValidate, labels[i], exec(func(ctx context.Context) error {
				return s.InsertCustomer(ctx, c)
			})))
		}

		probes = append(probes, rec.Probe(ProbeValidation, OpValidate, "reject negative price", exec(func(ctx context.Context) error {
			return s.InsertCatalogProduct(ctx, workload.CatalogProduct{ID: "CAT_000002", Name: "Negative Product", Price: -10})
		})))

		rec.Check("accepts_valid_records", allOK(validCustomer, validProduct))
		rec.Check("rejects_invalid_records", allRejected(probes...))

		return nil
	}
}

type orderTrial struct {
	product     int
	quantity    int
	failPayment bool
}

// The second trial is the canonical rollback case: five units against a
// stock of ten with the payment forced to fail must leave ten in stock.
var orderTrials = []orderTrial{
	{product: 2, quantity: 2},
	{product: 1, quantity: 5, failPayment: true},
	{product: 3, quantity: 3},
	{product: 4, quantity: 4, failPayment: true},
	{product: 5, quantity: 1},
}

func orderTransactions(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		g := gen()
		customer := g.Customer(1)

		if err := seedIntegrity(ctx, s, customer, g.Inventory(5, 10)); err != nil {
			return err
		}

		committed, rolledBack := true, true

		for i, trial := range orderTrials {
			order := g.Order(fmt.Sprintf("ORD_%06d", i+1), customer.ID, workload.OrderItem{
				ProductID: workload.ProductID(trial.product),
				Quantity:  trial.quantity,
				UnitPrice: 20,
			})
			payment := g.Payment(fmt.Sprintf("PAY_%06d", i+1), order.ID, order.Total)

			before, err := s.Stock(ctx, order.Items[0].ProductID)
			if err != nil {
				return fmt.Errorf("read stock: %w", err)
			}

			label := fmt.Sprintf("place order %s", order.ID)
			if trial.failPayment {
				label += " with failing payment"
			}

			tx := rec.Time(OpTransaction, label, placeOrder(s, order, payment, trial.failPayment))

			if trial.failPayment {
				probe := rec.Probe(ProbeRollback, OpValidate, "verify rollback of "+order.ID, verifyUntouched(s, order, payment, before))
				rolledBack = rolledBack && tx.Outcome == OutcomeRejected && probe.Success

				continue
			}

			verify := rec.Time(OpValidate, "verify commit of "+order.ID, verifyCommitted(s, order, payment, before))
			committed = committed && tx.Success && verify.Success
		}

		// An order exceeding the available stock must abort as a whole.
		oversell := g.Order("ORD_OVERSELL", customer.ID, workload.OrderItem{
			ProductID: workload.ProductID(1),
			Quantity:  oversellQuantity,
			UnitPrice: 20,
		})
		payment := g.Payment("PAY_OVERSELL", oversell.ID, oversell.Total)

		before, err := s.Stock(ctx, workload.ProductID(1))
		if err != nil {
			return fmt.Errorf("read stock: %w", err)
		}

		tx := rec.Time(OpTransaction, "place order exceeding stock", placeOrder(s, oversell, payment, false))
		probe := rec.Probe(ProbeRollback, OpValidate, "verify rollback of "+oversell.ID, verifyUntouched(s, oversell, payment, before))

		rec.Check("commits_transactions", committed)
		rec.Check("rolls_back_atomically", rolledBack && probe.Success)
		rec.Check("rejects_overselling", tx.Outcome == OutcomeRejected)

		return nil
	}
}

func referentialIntegrity(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		g := gen()
		customer := g.Customer(1)

		if err := seedIntegrity(ctx, s, customer, g.Inventory(3, 100)); err != nil {
			return err
		}

		line := func(qty int) workload.OrderItem {
			return workload.OrderItem{ProductID: workload.ProductID(1), Quantity: qty, UnitPrice: 20}
		}

		valid := g.Order("ORD_000001", customer.ID, line(2))
		priced := g.Order("ORD_000002", customer.ID, line(5))

		accepted := []OperationTiming{
			rec.Time(OpCreate, "create valid order", exec(func(ctx context.Context) error {
				return s.CreateOrder(ctx, valid)
			})),
			rec.Time(OpCreate, "create valid payment", exec(func(ctx context.Context) error {
				return s.CreatePayment(ctx, g.Payment("PAY_000001", valid.ID, valid.Total))
			})),
			rec.Time(OpCreate, "create order to be paid", exec(func(ctx context.Context) error {
				return s.CreateOrder(ctx, priced)
			})),
		}

		orphanOrder := g.Order("ORD_ORPHAN", workload.CustomerID(999999), line(1))
		unknownProduct := g.Order("ORD_BADPROD", customer.ID, workload.OrderItem{ProductID: "PROD_INVALID", Quantity: 1, UnitPrice: 20})
		orphanPayment := g.Payment("PAY_ORPHAN", "ORD_NOEXIST", 100)
		mismatch := g.Payment("PAY_MISMATCH", priced.ID, priced.Total+50)

		references := []OperationTiming{
			rec.Probe(ProbeValidation, OpValidate, "reject order for unknown customer", exec(func(ctx context.Context) error {
				return s.CreateOrder(ctx, orphanOrder)
			})),
			rec.Probe(ProbeValidation, OpValidate, "reject order for unknown product", exec(func(ctx context.Context) error {
				return s.CreateOrder(ctx, unknownProduct)
			})),
			rec.Probe(ProbeValidation, OpValidate, "reject payment for unknown order", exec(func(ctx context.Context) error {
				return s.CreatePayment(ctx, orphanPayment)
			})),
		}

		amount := rec.Probe(ProbeValidation, OpValidate, "reject payment amount mismatch", exec(func(ctx context.Context) error {
			return s.CreatePayment(ctx, mismatch)
		}))

		rec.Check("accepts_valid_references", allOK(accepted...))
		rec.Check("enforces_references", allRejected(references...))
		rec.Check("enforces_business_rules", allRejected(amount))

		return nil
	}
}

func validationOverhead(gen func() *workload.Generator) Script {
	return func(ctx context.Context, s Store, rec *Recorder) error {
		g := gen()
		customer := g.Customer(1)
		products := 5

		if err := seedIntegrity(ctx, s, customer, g.Inventory(products, 1000)); err != nil {
			return err
		}

		order := func(prefix string, i int) workload.Order {
			return g.Order(fmt.Sprintf("ORD_%s%05d", prefix, i+1), customer.ID, workload.OrderItem{
				ProductID: workload.ProductID(i%products + 1),
				Quantity:  1,
				UnitPrice: 20,
			})
		}

		for i := range overheadOrders {
			o := order("U", i)
			rec.Time(OpCreate, "insert unchecked "+o.ID, exec(func(ctx context.Context) error {
				return s.InsertUncheckedOrder(ctx, o)
			}))
		}

		checked := make([]OperationTiming, 0, overheadOrders)
		for i := range overheadOrders {
			o := order("V", i)
			checked = append(checked, rec.Time(OpValidate, "insert checked "+o.ID, exec(func(ctx context.Context) error {
				return s.CreateOrder(ctx, o)
			})))
		}

		txs := make([]OperationTiming, 0, overheadTransactions)
		for i := range overheadTransactions {
			o := order("T", i)
			p := g.Payment(fmt.Sprintf("PAY_T%05d", i+1), o.ID, o.Total)
			txs = append(txs, rec.Time(OpTransaction, "place order "+o.ID, placeOrder(s, o, p, false)))
		}

		rec.Check("checked_writes_succeed", allOK(checked...))
		rec.Check("transactions_under_load", allOK(txs...))

		return nil
	}
}

func seedIntegrity(ctx context.Context, s Store, c workload.Customer, items []workload.InventoryItem) error {
	if err := s.PrepareIntegrity(ctx); err != nil {
		return fmt.Errorf("prepare integrity: %w", err)
	}

	if err := s.InsertCustomer(ctx, c); err != nil {
		return fmt.Errorf("seed customer: %w", err)
	}

	if err := s.SeedInventory(ctx, items); err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}

	return nil
}

// placeOrder reports an injected failure as a rejection: the abort is the
// expected outcome of the trial.
func placeOrder(s Store, o workload.Order, p workload.Payment, failPayment bool) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		err := s.PlaceOrder(ctx, o, p, failPayment)
		if errors.Is(err, ErrInjectedFailure) {
			return 0, Reject("payment", err)
		}

		if err != nil {
			return 0, err
		}

		return 1, nil
	}
}

func verifyUntouched(s Store, o workload.Order, p workload.Payment, stock int) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		item := o.Items[0]

		got, err := s.Stock(ctx, item.ProductID)
		if err != nil {
			return 0, fmt.Errorf("read stock: %w", err)
		}

		if got != stock {
			return 0, fmt.Errorf("stock of %s is %d after rollback, want %d", item.ProductID, got, stock)
		}

		if err := absent(ctx, s, o.ID, p.ID); err != nil {
			return 0, err
		}

		return 0, nil
	}
}

func verifyCommitted(s Store, o workload.Order, p workload.Payment, stock int) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		item := o.Items[0]

		got, err := s.Stock(ctx, item.ProductID)
		if err != nil {
			return 0, fmt.Errorf("read stock: %w", err)
		}

		if want := stock - item.Quantity; got != want {
			return 0, fmt.Errorf("stock of %s is %d after commit, want %d", item.ProductID, got, want)
		}

		orderOK, err := s.OrderExists(ctx, o.ID)
		if err != nil {
			return 0, fmt.Errorf("look up order: %w", err)
		}

		paymentOK, err := s.PaymentExists(ctx, p.ID)
		if err != nil {
			return 0, fmt.Errorf("look up payment: %w", err)
		}

		if !orderOK || !paymentOK {
			return 0, fmt.Errorf("order %s committed without its records", o.ID)
		}

		return 1, nil
	}
}

func absent(ctx context.Context, s Store, orderID, paymentID string) error {
	orderFound, err := s.OrderExists(ctx, orderID)
	if err != nil {
		return fmt.Errorf("look up order: %w", err)
	}

	if orderFound {
		return fmt.Errorf("order %s persisted after rollback", orderID)
	}

	paymentFound, err := s.PaymentExists(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("look up payment: %w", err)
	}

	if paymentFound {
		return fmt.Errorf("payment %s persisted after rollback", paymentID)
	}

	return nil
}

func allRejected(timings ...OperationTiming) bool {
	for _, t := range timings {
		if t.Outcome != OutcomeRejected {
			return false
		}
	}

	return len(timings) > 0
}
