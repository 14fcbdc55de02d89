// Package repositorycache provides cached repository decorators for go-repository-bun.
//
// # Overview
//
// The cached repository wraps a base repository and routes its reads through
// memoized functions of a cache.Cacheable manager. Writes go straight to the
// base repository and, when they succeed, drop the cached reads they affect.
//
// # Basic Usage
//
//	store, _ := cache.NewMemoryStore(cache.DefaultMemoryConfig())
//	c, _ := cache.New(store, cache.DefaultConfig())
//
//	cached, err := repositorycache.New[*User](base, c, repositorycache.WithTTL(time.Minute))
//
//	user, err := cached.GetByID(ctx, "user-123") // key "cached:user:GetByID:user-123"
//	users, total, err := cached.List(ctx)        // key "cached:user:List"
//
// # Keys
//
// Reads use the templates KeyGet, KeyGetByID, KeyGetByIdentifier, KeyList and
// KeyCount. {_model_} resolves to the repository tag, which defaults to the
// snake_case name of the record type and can be set with WithTag.
//
// Select criteria are closures and have no stable representation, so any read
// that carries criteria runs against the base repository without touching the
// store.
//
// # Invalidation
//
// Every cached read records its key. After a successful write:
//
//   - Create, CreateMany and GetOrCreate drop List and Count.
//   - Update, Upsert, Delete and ForceDelete also drop Get and the GetByID and
//     GetByIdentifier entries of the written records. The identifier is read
//     from the identifier, name or code field.
//   - DeleteMany and DeleteWhere drop every read, since the affected records
//     are unknown.
//
// Invalidation failures are logged and never fail the write.
//
// # Pass-through Operations
//
// Transactional variants (the *Tx methods), Raw, RawTx and Handlers delegate to
// the base repository directly.
package repositorycache
