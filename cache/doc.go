// Package cache memoizes context-aware functions on top of a shared key-value store.
//
// # Overview
//
// A Cacheable manager owns the store handle, a key prefix, a codec and two
// registries. Functions wrapped by the manager compute a key from a template
// before running; on a hit they return the stored value, on a miss they run,
// store the result and return it.
//
//   - Cacheable: the manager. Get, Set, MGet and Del operate on unprefixed keys.
//   - Wrapped: a memoized function created by Wrap.
//   - TypeRegistry: tags Go types so cached values revive as typed instances.
//   - KeyRegistry: remembers templates claimed at wrap time to report collisions.
//   - Model: per-type handle for cached instance and static methods.
//
// # Basic Usage
//
//	store, _ := cache.NewMemoryStore(cache.DefaultMemoryConfig())
//	c, _ := cache.New(store, cache.DefaultConfig(), cache.WithLogger(logger))
//
//	getUser, _ := cache.Wrap(c, func(ctx context.Context, args ...any) (*User, error) {
//		return db.FindUser(ctx, args[0].(string))
//	}, cache.Named("getUser"), cache.WithKey("user:{0}"), cache.WithTTL(time.Minute))
//
//	u, err := getUser.Call(ctx, "abc") // runs the query
//	u, err = getUser.Call(ctx, "abc")  // served from "cached:user:abc"
//
// # Key Templates
//
// Templates contain placeholders written {path} or %j{path}. The first segment
// of a path selects a root:
//
//   - a number indexes the call arguments: {0}, {1.id}
//   - this is the receiver: {this.id}
//   - _fn_ is the function name
//   - _model_ is the type tag of the receiver
//   - anything else is read from the receiver: {id} equals {this.id}
//
// Remaining segments walk maps, struct fields (by json tag, then by name),
// slice indexes and ToPlain projections. %j JSON encodes the value. Without
// %j only primitives resolve; nil, empty strings, composites and missing
// segments leave the placeholder in place. A key that still contains a
// placeholder is never read or written: the call runs uncached.
//
// The default template is "{_fn_}:%j{0}", which requires a named function.
// Names are inferred from top level functions and method values; closures
// need Named.
//
// # Call Modes
//
//   - Call and CallOn read through the cache.
//   - Fresh, or any call whose context carries WithFresh, skips the store.
//   - Run executes the function for its side effects without touching the store.
//   - Async runs Call in a goroutine and delivers one Result on a channel.
//
// Errors from the function are returned and never cached. Nil results are not
// cached either; zero values are. A failed store write is logged and the
// result is still returned. A failed store read degrades to a miss when
// Config.Silent is set and is returned otherwise.
//
// # Typed Values
//
// Values pass through TypeRegistry.Encode before the codec. Instances of
// registered types become their ToPlain projection plus a "__cachedname" tag;
// times become RFC 3339 UTC strings. On read, tagged nodes are rebuilt by the
// registered factory, the optional revive hook and Revive run, and timestamp
// shaped strings become time.Time. An entry holding a tag that is no longer
// registered is treated as a miss.
//
//	users, _ := cache.Register(c, func(fields map[string]any) (*User, error) {
//		return &User{ID: fields["id"].(string)}, nil
//	})
//
//	articles, _ := cache.EnableMethod(users, "articles", (*User).Articles)
//	ids, _ := articles.Call(ctx, u) // key "cached:user:<id>:articles"
//
//	_ = users.ClearCache(ctx, u) // removes "user:<id>" and "user:<id>:articles"
//
// # Stores
//
// NewMemoryStore (sturdyc), NewRedisStore (go-redis) and NewMemcacheStore
// (gomemcache) are provided. Any type implementing Store can be used.
//
// # See Also
//
// The repositorycache package applies the same manager to go-repository-bun
// repositories. The metrics package turns call outcomes into Prometheus counters.
package cache
