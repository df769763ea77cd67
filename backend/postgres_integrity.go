package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/workload"
)

var integrityTables = []string{
	`CREATE TABLE customers (
		customer_id TEXT PRIMARY KEY CONSTRAINT customer_id_format CHECK (customer_id ~ '` + customerIDPattern + `'),
		email       TEXT NOT NULL UNIQUE CONSTRAINT email_format CHECK (email ~ '` + emailPattern + `'),
		name        TEXT NOT NULL CONSTRAINT name_length CHECK (char_length(name) BETWEEN 2 AND 100),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE catalog_products (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL,
		price NUMERIC(10,2) NOT NULL CONSTRAINT price_non_negative CHECK (price >= 0)
	)`,
	`CREATE TABLE inventory (
		product_id TEXT PRIMARY KEY,
		stock      INT NOT NULL CONSTRAINT stock_non_negative CHECK (stock >= 0),
		unit_price NUMERIC(10,2) NOT NULL CHECK (unit_price >= 0)
	)`,
	`CREATE TABLE orders (
		order_id    TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(customer_id),
		total       NUMERIC(12,2) NOT NULL CHECK (total >= 0),
		status      TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'cancelled')),
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE order_items (
		order_id   TEXT NOT NULL REFERENCES orders(order_id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES inventory(product_id),
		quantity   INT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(10,2) NOT NULL,
		PRIMARY KEY (order_id, product_id)
	)`,
	`CREATE TABLE payments (
		payment_id TEXT PRIMARY KEY,
		order_id   TEXT NOT NULL REFERENCES orders(order_id),
		amount     NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
		method     TEXT NOT NULL,
		status     TEXT NOT NULL,
		reference  UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE orders_unchecked (
		order_id    TEXT,
		customer_id TEXT,
		items       JSONB,
		total       NUMERIC(12,2),
		status      TEXT,
		created_at  TIMESTAMPTZ
	)`,
}

func (p *Postgres) PrepareIntegrity(ctx context.Context) error {
	return p.execAll(ctx, integrityTables)
}

func (p *Postgres) InsertCustomer(ctx context.Context, c workload.Customer) error {
	_, err := p.exec(ctx, `INSERT INTO customers (customer_id, email, name, created_at)
		VALUES ($1, $2, $3, $4)`, c.ID, c.Email, c.Name, c.CreatedAt)

	return err
}

func (p *Postgres) InsertCatalogProduct(ctx context.Context, pr workload.CatalogProduct) error {
	_, err := p.exec(ctx, `INSERT INTO catalog_products (id, name, price) VALUES ($1, $2, $3)`,
		pr.ID, pr.Name, pr.Price)

	return err
}

func (p *Postgres) SeedInventory(ctx context.Context, items []workload.InventoryItem) error {
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"inventory"},
		[]string{"product_id", "stock", "unit_price"},
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			return []any{items[i].ProductID, items[i].Stock, items[i].UnitPrice}, nil
		}),
	)
	if err != nil {
		return pgRejection(fmt.Errorf("copy inventory: %w", err))
	}

	return nil
}

// PlaceOrder locks each inventory row, reserves the stock, writes the
// order and the payment, and commits only if every step succeeded.
func (p *Postgres) PlaceOrder(ctx context.Context, o workload.Order, pay workload.Payment, failPayment bool) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, it := range o.Items {
			var stock int

			err := tx.QueryRow(ctx, `SELECT stock FROM inventory WHERE product_id = $1 FOR UPDATE`,
				it.ProductID).Scan(&stock)
			if errors.Is(err, pgx.ErrNoRows) {
				return harness.Reject("order product exists", fmt.Errorf("no product %s", it.ProductID))
			}

			if err != nil {
				return fmt.Errorf("lock %s: %w", it.ProductID, err)
			}

			if stock < it.Quantity {
				return harness.Reject("insufficient stock",
					fmt.Errorf("%d units of %s requested, %d available", it.Quantity, it.ProductID, stock))
			}

			if _, err := tx.Exec(ctx, `UPDATE inventory SET stock = stock - $2 WHERE product_id = $1`,
				it.ProductID, it.Quantity); err != nil {
				return fmt.Errorf("reserve %s: %w", it.ProductID, err)
			}
		}

		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}

		if failPayment {
			return harness.ErrInjectedFailure
		}

		if err := insertPayment(ctx, tx, pay); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'paid' WHERE order_id = $1`, o.ID); err != nil {
			return fmt.Errorf("mark order %s paid: %w", o.ID, err)
		}

		return nil
	})

	return pgRejection(err)
}

func (p *Postgres) Stock(ctx context.Context, productID string) (int, error) {
	var stock int

	err := p.pool.QueryRow(ctx, `SELECT stock FROM inventory WHERE product_id = $1`, productID).Scan(&stock)
	if err != nil {
		return 0, fmt.Errorf("read stock of %s: %w", productID, err)
	}

	return stock, nil
}

func (p *Postgres) OrderExists(ctx context.Context, orderID string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID)
}

func (p *Postgres) PaymentExists(ctx context.Context, paymentID string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE payment_id = $1)`, paymentID)
}

// CreateOrder leaves the customer and product checks to the foreign keys.
func (p *Postgres) CreateOrder(ctx context.Context, o workload.Order) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return insertOrder(ctx, tx, o)
	})

	return pgRejection(err)
}

// CreatePayment leaves the order check to the foreign key. The amount
// check needs the order total, so it runs in the transaction.
func (p *Postgres) CreatePayment(ctx context.Context, pay workload.Payment) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var total float64

		err := tx.QueryRow(ctx, `SELECT total FROM orders WHERE order_id = $1 FOR SHARE`, pay.OrderID).Scan(&total)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read order %s: %w", pay.OrderID, err)
		case total != pay.Amount:
			return harness.Reject("payment amount matches order total",
				fmt.Errorf("amount %.2f, order total %.2f", pay.Amount, total))
		}

		return insertPayment(ctx, tx, pay)
	})

	return pgRejection(err)
}

func (p *Postgres) InsertUncheckedOrder(ctx context.Context, o workload.Order) error {
	items := make([]map[string]any, len(o.Items))
	for i, it := range o.Items {
		items[i] = map[string]any{"product_id": it.ProductID, "quantity": it.Quantity, "unit_price": it.UnitPrice}
	}

	_, err := p.exec(ctx, `INSERT INTO orders_unchecked (order_id, customer_id, items, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, o.ID, o.CustomerID, items, o.Total, o.Status, o.CreatedAt)

	return err
}

func (p *Postgres) exists(ctx context.Context, sql string, id string) (bool, error) {
	var found bool
	if err := p.pool.QueryRow(ctx, sql, id).Scan(&found); err != nil {
		return false, fmt.Errorf("look up %s: %w", id, err)
	}

	return found, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o workload.Order) error {
	if _, err := tx.Exec(ctx, `INSERT INTO orders (order_id, customer_id, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`, o.ID, o.CustomerID, o.Total, o.Status, o.CreatedAt); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`, o.ID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return fmt.Errorf("insert item %s of order %s: %w", it.ProductID, o.ID, err)
		}
	}

	return nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, pay workload.Payment) error {
	ref, err := uuid.Parse(pay.Reference)
	if err != nil {
		return fmt.Errorf("payment %s reference: %w", pay.ID, err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO payments (payment_id, order_id, amount, method, status, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pay.ID, pay.OrderID, pay.Amount, pay.Method, pay.Status, ref, pay.CreatedAt); err != nil {
		return fmt.Errorf("insert payment %s: %w", pay.ID, err)
	}

	return nil
}
