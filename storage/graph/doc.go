// Package graph is the object graph engine. A Coordinator ties a
// schema to a kv store and hands out Contexts. Contexts form a chain
// where each one commits its pending changes into its parent and the
// root commits into the store:
//
//  - kv store
//    - root context (commits with one write transaction)
//      - context (commits into the root's pending state)
//        - context (commits into its parent's pending state)
//
// A context reads through its parent, so it sees the parent's pending
// changes overlaid with its own. Records are owned by the context that
// materialized them and only their ids and value copies ever move
// between contexts.
package graph
