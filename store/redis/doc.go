// Package redis implements the job store on Redis using go-redis/v9.
//
// Rows are msgpack-encoded strings, one key per job and kind, with a Set
// per kind for enumeration. A transaction buffers its writes and remembers
// the raw value each written key had when first read. Commit WATCHes the
// written keys, checks their values are unchanged and applies the writes
// in MULTI/EXEC. A concurrent writer surfaces as asyncexec.ErrOptimisticLock.
//
// All keys share the {asyncexec} hash tag so a transaction never spans
// cluster slots. The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
