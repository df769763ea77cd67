package backend

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/workload"
)

// Declared rules shared by both stores.
const (
	customerIDPattern = `^CUST_[0-9]{6}$`
	emailPattern      = `^[^@\s]+@[^@\s]+\.[^@\s]+$`
	nameMinLength     = 2
	nameMaxLength     = 100
)

var numberTypes = bson.A{"double", "int", "long", "decimal"}

func mongoValidators() map[string]bson.M {
	return map[string]bson.M{
		collCustomers: {"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"customer_id", "email", "name"},
			"properties": bson.M{
				"customer_id": bson.M{"bsonType": "string", "pattern": customerIDPattern},
				"email":       bson.M{"bsonType": "string", "pattern": emailPattern},
				"name":        bson.M{"bsonType": "string", "minLength": nameMinLength, "maxLength": nameMaxLength},
			},
		}},
		collCatalog: {"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "price"},
			"properties": bson.M{
				"price": bson.M{"bsonType": numberTypes, "minimum": 0},
			},
		}},
		collInventory: {"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"product_id", "stock", "unit_price"},
			"properties": bson.M{
				"stock":      bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"unit_price": bson.M{"bsonType": numberTypes, "minimum": 0},
			},
		}},
		collOrders: {"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"order_id", "customer_id", "items", "total", "status"},
			"properties": bson.M{
				"customer_id": bson.M{"bsonType": "string", "pattern": customerIDPattern},
				"items":       bson.M{"bsonType": "array", "minItems": 1},
				"total":       bson.M{"bsonType": numberTypes, "minimum": 0},
				"status":      bson.M{"enum": bson.A{"pending", "paid", "cancelled"}},
			},
		}},
		collPayments: {"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"payment_id", "order_id", "amount", "status"},
			"properties": bson.M{
				"amount": bson.M{"bsonType": numberTypes, "minimum": 0},
			},
		}},
	}
}

// PrepareIntegrity creates the integrity collections with their
// validators. The unchecked orders collection has none.
func (m *Mongo) PrepareIntegrity(ctx context.Context) error {
	for name, validator := range mongoValidators() {
		opts := options.CreateCollection().SetValidator(validator)
		if err := m.db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}

	if err := m.db.CreateCollection(ctx, collUnchecked); err != nil {
		return fmt.Errorf("create collection %s: %w", collUnchecked, err)
	}

	return nil
}

func (m *Mongo) InsertCustomer(ctx context.Context, c workload.Customer) error {
	_, err := m.db.Collection(collCustomers).InsertOne(ctx, bson.D{
		{Key: "_id", Value: c.ID},
		{Key: "customer_id", Value: c.ID},
		{Key: "email", Value: c.Email},
		{Key: "name", Value: c.Name},
		{Key: "created_at", Value: c.CreatedAt},
	})
	if err != nil {
		return mongoRejection("customer rules", fmt.Errorf("insert customer %s: %w", c.ID, err))
	}

	return nil
}

func (m *Mongo) InsertCatalogProduct(ctx context.Context, p workload.CatalogProduct) error {
	_, err := m.db.Collection(collCatalog).InsertOne(ctx, bson.D{
		{Key: "_id", Value: p.ID},
		{Key: "name", Value: p.Name},
		{Key: "price", Value: p.Price},
	})
	if err != nil {
		return mongoRejection("non-negative price", fmt.Errorf("insert product %s: %w", p.ID, err))
	}

	return nil
}

func (m *Mongo) SeedInventory(ctx context.Context, items []workload.InventoryItem) error {
	batch := make([]any, len(items))
	for i, it := range items {
		batch[i] = bson.D{
			{Key: "_id", Value: it.ProductID},
			{Key: "product_id", Value: it.ProductID},
			{Key: "stock", Value: it.Stock},
			{Key: "unit_price", Value: it.UnitPrice},
		}
	}

	_, err := m.insertMany(ctx, collInventory, batch)

	return err
}

// PlaceOrder runs the reservation, the order and the payment inside one
// multi-document transaction. Transactions need a replica set or a
// sharded cluster.
func (m *Mongo) PlaceOrder(ctx context.Context, o workload.Order, p workload.Payment, failPayment bool) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		inventory := m.db.Collection(collInventory)

		for _, it := range o.Items {
			res, err := inventory.UpdateOne(ctx,
				bson.M{"_id": it.ProductID, "stock": bson.M{"$gte": it.Quantity}},
				bson.M{"$inc": bson.M{"stock": -it.Quantity}},
			)
			if err != nil {
				return nil, fmt.Errorf("reserve %s: %w", it.ProductID, err)
			}

			if res.MatchedCount == 0 {
				return nil, harness.Reject("insufficient stock", fmt.Errorf("%d units of %s", it.Quantity, it.ProductID))
			}
		}

		if _, err := m.db.Collection(collOrders).InsertOne(ctx, orderDoc(o)); err != nil {
			return nil, mongoRejection("order rules", fmt.Errorf("insert order %s: %w", o.ID, err))
		}

		if failPayment {
			return nil, harness.ErrInjectedFailure
		}

		if _, err := m.db.Collection(collPayments).InsertOne(ctx, paymentDoc(p)); err != nil {
			return nil, mongoRejection("payment rules", fmt.Errorf("insert payment %s: %w", p.ID, err))
		}

		_, err := m.db.Collection(collOrders).UpdateOne(ctx,
			bson.M{"_id": o.ID},
			bson.M{"$set": bson.M{"status": "paid"}},
		)
		if err != nil {
			return nil, fmt.Errorf("mark order %s paid: %w", o.ID, err)
		}

		return nil, nil
	})

	return err
}

func (m *Mongo) Stock(ctx context.Context, productID string) (int, error) {
	var item struct {
		Stock int `bson:"stock"`
	}

	err := m.db.Collection(collInventory).FindOne(ctx, bson.M{"_id": productID}).Decode(&item)
	if err != nil {
		return 0, fmt.Errorf("read stock of %s: %w", productID, err)
	}

	return item.Stock, nil
}

func (m *Mongo) OrderExists(ctx context.Context, orderID string) (bool, error) {
	return m.exists(ctx, collOrders, orderID)
}

func (m *Mongo) PaymentExists(ctx context.Context, paymentID string) (bool, error) {
	return m.exists(ctx, collPayments, paymentID)
}

// CreateOrder checks references in the application: the document store
// has no foreign keys.
func (m *Mongo) CreateOrder(ctx context.Context, o workload.Order) error {
	found, err := m.exists(ctx, collCustomers, o.CustomerID)
	if err != nil {
		return err
	}

	if !found {
		return harness.Reject("order customer exists", fmt.Errorf("no customer %s", o.CustomerID))
	}

	for _, it := range o.Items {
		found, err := m.exists(ctx, collInventory, it.ProductID)
		if err != nil {
			return err
		}

		if !found {
			return harness.Reject("order product exists", fmt.Errorf("no product %s", it.ProductID))
		}
	}

	if _, err := m.db.Collection(collOrders).InsertOne(ctx, orderDoc(o)); err != nil {
		return mongoRejection("order rules", fmt.Errorf("insert order %s: %w", o.ID, err))
	}

	return nil
}

func (m *Mongo) CreatePayment(ctx context.Context, p workload.Payment) error {
	var order struct {
		Total float64 `bson:"total"`
	}

	err := m.db.Collection(collOrders).FindOne(ctx, bson.M{"_id": p.OrderID}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return harness.Reject("payment order exists", fmt.Errorf("no order %s", p.OrderID))
	}

	if err != nil {
		return fmt.Errorf("read order %s: %w", p.OrderID, err)
	}

	if order.Total != p.Amount {
		return harness.Reject("payment amount matches order total",
			fmt.Errorf("amount %.2f, order total %.2f", p.Amount, order.Total))
	}

	if _, err := m.db.Collection(collPayments).InsertOne(ctx, paymentDoc(p)); err != nil {
		return mongoRejection("payment rules", fmt.Errorf("insert payment %s: %w", p.ID, err))
	}

	return nil
}

func (m *Mongo) InsertUncheckedOrder(ctx context.Context, o workload.Order) error {
	if _, err := m.db.Collection(collUnchecked).InsertOne(ctx, orderDoc(o)); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	return nil
}

func (m *Mongo) exists(ctx context.Context, coll, id string) (bool, error) {
	n, err := m.db.Collection(coll).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("look up %s in %s: %w", id, coll, err)
	}

	return n > 0, nil
}

func orderDoc(o workload.Order) bson.D {
	items := make(bson.A, len(o.Items))
	for i, it := range o.Items {
		items[i] = bson.D{
			{Key: "product_id", Value: it.ProductID},
			{Key: "quantity", Value: it.Quantity},
			{Key: "unit_price", Value: it.UnitPrice},
		}
	}

	return bson.D{
		{Key: "_id", Value: o.ID},
		{Key: "order_id", Value: o.ID},
		{Key: "customer_id", Value: o.CustomerID},
		{Key: "items", Value: items},
		{Key: "total", Value: o.Total},
		{Key: "status", Value: o.Status},
		{Key: "created_at", Value: o.CreatedAt},
	}
}

func paymentDoc(p workload.Payment) bson.D {
	return bson.D{
		{Key: "_id", Value: p.ID},
		{Key: "payment_id", Value: p.ID},
		{Key: "order_id", Value: p.OrderID},
		{Key: "amount", Value: p.Amount},
		{Key: "method", Value: p.Method},
		{Key: "status", Value: p.Status},
		{Key: "reference", Value: p.Reference},
		{Key: "created_at", Value: p.CreatedAt},
	}
}
