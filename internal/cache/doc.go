// Package cache provides the Redis-backed shared-cache mirror the memory
// store uses for its fleet partition, and the sorted-set hot path the
// pattern store uses to keep the highest-confidence patterns queryable
// without a table scan.
package cache
