package workload

// Query names one of the fixed read shapes. Each store translates a Query
// into its own native filter.
type Query string

// Schema flexibility queries against the products store.
const (
	QueryPriceRange  Query = "price_range"
	QueryCategory    Query = "category"
	QueryNestedField Query = "nested_field"
	QueryFieldExists Query = "field_exists"
	QueryArrayMatch  Query = "nested_array_match"
	QueryMultiLevel  Query = "multi_level_nested"
)

// Performance queries against the records store.
const (
	QueryAll          Query = "all"
	QueryByCategory   Query = "by_category"
	QueryByPriceRange Query = "by_price_range"
	QueryNameContains Query = "name_contains"
	QueryHighRated    Query = "high_rated_category"
	QueryHasTag       Query = "has_tag"
)

// Parameters shared by both translations of every query.
const (
	FilterCategory     = "electronics"
	FilterColor        = "Black"
	FilterField        = "sizes"
	FilterMinViews     = 1000
	FilterMinReview    = 4
	FilterNameFragment = "Product 1"
	FilterMinRating    = 4.0
	FilterTag          = "featured"

	// Flexibility price bounds.
	FilterFlexMinPrice = 100.0
	FilterFlexMaxPrice = 300.0

	// Performance price bounds.
	FilterPerfMinPrice = 100.0
	FilterPerfMaxPrice = 500.0
)

// FlexibilityQueries returns the six schema flexibility queries in order.
func FlexibilityQueries() []Query {
	return []Query{
		QueryPriceRange,
		QueryCategory,
		QueryNestedField,
		QueryFieldExists,
		QueryArrayMatch,
		QueryMultiLevel,
	}
}

// PerformanceQueries returns the five filtered reads of the CRUD suite.
func PerformanceQueries() []Query {
	return []Query{
		QueryByCategory,
		QueryByPriceRange,
		QueryNameContains,
		QueryHighRated,
		QueryHasTag,
	}
}
