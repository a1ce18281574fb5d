// Package vectorstore stores embedded text records and answers filtered
// similarity queries.
//
// Every backend implements Store. Optional capabilities are discovered with
// type assertions:
//
//	if l, ok := store.(vectorstore.Lister); ok {
//	    ids, next, err := l.ListIDs(ctx, filters, cursor, 256)
//	}
//
// Backends:
//   - ChromemStore: embedded chromem-go, in memory or persisted to gob files.
//     Implements VectorQuerier and BatchDeleter.
//   - QdrantStore: Qdrant over gRPC. Point IDs are UUIDv5 of the record ID
//     so repeated upserts of one record hit the same point. Implements
//     Lister, VectorQuerier and BatchDeleter.
//
// With RequiredFilter set, reads that do not pin that metadata key fail with
// ErrMissingFilter rather than scanning across users.
//
// Operations emit OpenTelemetry spans and coachrag_vectorstore_* Prometheus
// metrics.
package vectorstore
