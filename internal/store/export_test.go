package store

// Shared with the store_test package, which drives the store through the
// order service.
var (
	SetupTestStore = setupTestStore
	SeedProduct    = seedProduct
)
