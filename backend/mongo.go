package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/weiihann/dbcompare/harness"
	"github.com/weiihann/dbcompare/workload"
)

// Server error code for a write refused by a $jsonSchema validator.
const mongoValidationFailed = 121

const (
	collProducts  = "products"
	collRecords   = "performance_test"
	collCustomers = "customers"
	collCatalog   = "catalog_products"
	collInventory = "inventory"
	collOrders    = "orders"
	collPayments  = "payments"
	collUnchecked = "orders_unchecked"
)

// Mongo is the document store.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ harness.Store = (*Mongo)(nil)

// OpenMongo connects to uri and pings the primary.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Mongo{client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Backend() harness.Backend { return harness.MongoDB }

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Reset drops the whole experiment database.
func (m *Mongo) Reset(ctx context.Context) error {
	if err := m.db.Drop(ctx); err != nil {
		return fmt.Errorf("drop database %s: %w", m.db.Name(), err)
	}

	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) PrepareProducts(ctx context.Context) error {
	if err := m.db.CreateCollection(ctx, collProducts); err != nil {
		return fmt.Errorf("create collection %s: %w", collProducts, err)
	}

	return nil
}

func (m *Mongo) InsertProducts(ctx context.Context, products []workload.Product) (int64, error) {
	docs := make([]workload.Document, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}

	return m.InsertDocuments(ctx, docs)
}

func (m *Mongo) InsertDocuments(ctx context.Context, docs []workload.Document) (int64, error) {
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = toBSON(d)
	}

	return m.insertMany(ctx, collProducts, batch)
}

// Migrate is a no-op: collections accept new fields as they arrive.
func (m *Mongo) Migrate(context.Context, []workload.Document) (int64, error) {
	return 0, nil
}

func (m *Mongo) InsertNested(ctx context.Context, products []workload.NestedProduct) (int64, error) {
	batch := make([]any, len(products))
	for i, p := range products {
		batch[i] = toBSON(p.Document())
	}

	return m.insertMany(ctx, collProducts, batch)
}

func (m *Mongo) QueryProducts(ctx context.Context, q workload.Query) (int64, error) {
	var filter bson.M

	switch q {
	case workload.QueryPriceRange:
		filter = bson.M{"price": bson.M{"$gte": workload.FilterFlexMinPrice, "$lte": workload.FilterFlexMaxPrice}}
	case workload.QueryCategory:
		filter = bson.M{"category": workload.FilterCategory}
	case workload.QueryNestedField:
		filter = bson.M{"specs.color": workload.FilterColor}
	case workload.QueryFieldExists:
		filter = bson.M{workload.FilterField: bson.M{"$exists": true}}
	case workload.QueryArrayMatch:
		filter = bson.M{"reviews.rating": bson.M{"$gte": workload.FilterMinReview}}
	case workload.QueryMultiLevel:
		filter = bson.M{"analytics.views": bson.M{"$gt": workload.FilterMinViews}}
	default:
		return 0, fmt.Errorf("unsupported product query %q", q)
	}

	return m.db.Collection(collProducts).CountDocuments(ctx, filter)
}

func (m *Mongo) PrepareRecords(ctx context.Context) error {
	if err := m.db.CreateCollection(ctx, collRecords); err != nil {
		return fmt.Errorf("create collection %s: %w", collRecords, err)
	}

	indexes := make([]mongo.IndexModel, 0, 5)
	for _, field := range []string{"category", "price", "created_at", "rating", "tags"} {
		indexes = append(indexes, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
	}

	if _, err := m.db.Collection(collRecords).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes on %s: %w", collRecords, err)
	}

	return nil
}

func (m *Mongo) InsertRecords(ctx context.Context, records []workload.Record) (int64, error) {
	batch := make([]any, len(records))
	for i, r := range records {
		batch[i] = bson.D{
			{Key: "_id", Value: r.ID},
			{Key: "name", Value: r.Name},
			{Key: "price", Value: r.Price},
			{Key: "category", Value: r.Category},
			{Key: "description", Value: r.Description},
			{Key: "stock", Value: r.Stock},
			{Key: "rating", Value: r.Rating},
			{Key: "tags", Value: r.Tags},
			{Key: "status", Value: "active"},
			{Key: "created_at", Value: r.CreatedAt},
		}
	}

	return m.insertMany(ctx, collRecords, batch)
}

func (m *Mongo) CountRecords(ctx context.Context, q workload.Query) (int64, error) {
	var filter bson.M

	switch q {
	case workload.QueryAll:
		filter = bson.M{}
	case workload.QueryByCategory:
		filter = bson.M{"category": workload.FilterCategory}
	case workload.QueryByPriceRange:
		filter = bson.M{"price": bson.M{"$gte": workload.FilterPerfMinPrice, "$lte": workload.FilterPerfMaxPrice}}
	case workload.QueryNameContains:
		filter = bson.M{"name": bson.M{"$regex": regexp.QuoteMeta(workload.FilterNameFragment)}}
	case workload.QueryHighRated:
		filter = bson.M{"category": workload.FilterCategory, "rating": bson.M{"$gte": workload.FilterMinRating}}
	case workload.QueryHasTag:
		filter = bson.M{"tags": workload.FilterTag}
	default:
		return 0, fmt.Errorf("unsupported record query %q", q)
	}

	return m.db.Collection(collRecords).CountDocuments(ctx, filter)
}

func (m *Mongo) FindRecord(ctx context.Context, id string) (int64, error) {
	var doc bson.M

	err := m.db.Collection(collRecords).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("find %s: %w", id, err)
	}

	return 1, nil
}

func (m *Mongo) IncreasePrice(ctx context.Context, category string, delta float64) (int64, error) {
	res, err := m.db.Collection(collRecords).UpdateMany(ctx,
		bson.M{"category": category},
		bson.M{"$inc": bson.M{"price": delta}},
	)
	if err != nil {
		return 0, fmt.Errorf("update prices: %w", err)
	}

	return res.ModifiedCount, nil
}

func (m *Mongo) FlagForReview(ctx context.Context, below float64, at time.Time) (int64, error) {
	res, err := m.db.Collection(collRecords).UpdateMany(ctx,
		bson.M{"rating": bson.M{"$lt": below}},
		bson.M{"$set": bson.M{"status": "review_needed", "updated_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("flag for review: %w", err)
	}

	return res.ModifiedCount, nil
}

func (m *Mongo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.Collection(collRecords).DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete old records: %w", err)
	}

	return res.DeletedCount, nil
}

func (m *Mongo) insertMany(ctx context.Context, coll string, batch []any) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	res, err := m.db.Collection(coll).InsertMany(ctx, batch)
	if err != nil {
		return 0, mongoRejection("schema validator on "+coll, fmt.Errorf("insert into %s: %w", coll, err))
	}

	return int64(len(res.InsertedIDs)), nil
}

// mongoRejection marks err as a rejection when a validator refused the
// write.
func mongoRejection(rule string, err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(mongoValidationFailed) {
		return harness.Reject(rule, err)
	}

	return err
}

func toBSON(doc workload.Document) bson.D {
	d := make(bson.D, len(doc))
	for i, f := range doc {
		d[i] = bson.E{Key: f.Key, Value: bsonValue(f.Value)}
	}

	return d
}

func bsonValue(v any) any {
	switch val := v.(type) {
	case workload.Document:
		return toBSON(val)
	case []workload.Document:
		a := make(bson.A, len(val))
		for i, sub := range val {
			a[i] = toBSON(sub)
		}

		return a
	default:
		return v
	}
}
