// Package kv provides an interface for implementing
// kv drivers that the object graph engine persists into.
//
// A kv plugin is a factory for store instances. A store
// contains zero or more named buckets and each bucket is
// a sorted map of keys to values.
//
//  - Store
//    - Bucket Item
//      - key1: {...}
//      - key2: {...}
//    - Bucket Category
//      - keyN: {...}
//
// All reads and writes happen inside a transaction. A
// read-write transaction becomes visible to others only once
// it commits, and a failed commit leaves the store exactly as
// it was before the transaction began.
package kv
