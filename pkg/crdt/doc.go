// Package crdt implements a replicated plain-text sequence.
//
// Every replica holds the full operation log of a document. Replicas
// exchange three kinds of payload, all produced and consumed by this package
// and otherwise opaque to the rest of the system:
//
//   - update: a batch of operations (EncodeStateAsUpdate, DiffUpdate, Insert, Delete)
//   - state vector: the next expected clock of every client (EncodeStateVector)
//   - text: the materialized document (String)
//
// Merging is idempotent and commutative: applying the same set of updates in
// any order, any number of times, converges to the same text.
//
//	a := crdt.New(1)
//	b := crdt.New(2)
//	u, _ := a.Insert(0, "hello")
//	b.ApplyUpdate(u)
//	// a.String() == b.String() == "hello"
package crdt
