// Package schema models queryable fields across heterogeneous backends.
//
// The central type is [FieldMap]: an ordered mapping from dotted field
// paths (e.g. "transaction.receiver.name") to a [FieldSpec] carrying a
// normalized type tag. Two builders produce a FieldMap:
//
//   - [ParseMapping] walks a search-engine mapping tree ("properties"
//     children, recursing into nested subtrees) and normalizes each leaf
//     type through the search type table.
//   - [InferDocuments] infers a FieldMap from sampled documents of a
//     schemaless store by counting the observed type per path and
//     electing the modal type.
//
// Both builders emit only leaf paths; a parent object path never appears
// alongside its leaves. Nested (array-of-object) parents are the one
// exception: they appear as array fields so existence predicates can
// target them.
//
// [Extractor] is the contract a backend adapter implements to produce a
// FieldMap and distinct value sets. [Cache] wraps any Extractor with
// initialize-once memoization so concurrent callers share one extraction.
// [Static] serves a user-supplied mapping/enum document in place of a
// live backend.
package schema
