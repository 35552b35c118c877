// Package redis implements store.Store using Redis. Orders, products,
// and reservations are stored as JSON values; optimistic concurrency on
// orders and stock uses WATCH/MULTI transactions, so concurrent writers
// resolve by re-reading instead of locking. DLQ entries are Redis Hashes.
//
// The caller owns the client lifecycle — this package never closes it.
// Pass any UniversalClient through the constructor:
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    redisstore "github.com/tidemark/orderflow/store/redis"
//	)
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
