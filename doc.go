// Package herdcache implements a read-through cache that protects slow
// loaders from cache stampedes. When an entry expires, exactly one caller
// per key acquires a store-side refresh lock and recomputes the value;
// every other caller is served the last-known data (weak mode, the default)
// or polls until the fresh value lands (strong mode).
//
// Components:
//   - store.Store: atomic record operations against a shared backend
//     (Redis via store/redisstore, in-process via store/memstore).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - Loader[V]: the caller's computation, invoked at most once per
//     lock acquisition and never for a valid hit.
//
// Records keep expired values around for a short stale window instead of
// deleting them, so invalidation (TagAsDeleted) is logical: readers stay
// fast during a refresh and the loader result replaces the record under a
// fencing token, making writes from superseded owners harmless no-ops.
//
// Read-through pattern:
//
//	cache, _ := herdcache.New[User](herdcache.Options[User]{
//	    Store: rstore, // store/redisstore
//	    Codec: codec.JSON[User]{},
//	})
//	u, ok, err := cache.Fetch(ctx, "user:42", 10*time.Minute, func(ctx context.Context) (User, bool, error) {
//	    return loadUserFromDB(ctx, 42)
//	})
//
// After writing to the source of truth, call TagAsDeleted(key) so the next
// Fetch refreshes while stale reads keep being served.
package herdcache
