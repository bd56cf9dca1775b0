// Package cache stores CRM property definition lists with a Redis backend.
//
// Listing the properties of an object type is one request per type and the
// result rarely changes, so repeated exports (or several exporters sharing
// one Redis) reuse the list for DefaultTTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	key := cache.Key{Namespace: cache.Namespace(token), Object: "contacts"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch /crm/v3/properties/contacts, then
//		_ = manager.Set(ctx, key, cache.NewEntry(names, cache.DefaultTTL))
//	}
//
// Memory provides the same interface without Redis.
//
// # Metrics
//
//   - crm_property_cache_hits_total{layer} - Cache hits
//   - crm_property_cache_misses_total - Cache misses
//   - crm_property_cache_errors_total{operation} - Cache operation errors
package cache
