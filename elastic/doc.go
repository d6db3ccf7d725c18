// Package elastic adapts the query-builder pipeline to a search-engine
// backend: schema extraction from index mappings, filter-IR translation
// to the query DSL, and plan execution through the official client.
//
// String and enum fields require the ".keyword" sub-field for exact
// matching; the translator applies that rewrite wherever equality or
// set membership is lowered. Grouping lowers to nested bucket
// aggregations named "group_by_0", "group_by_1", ... with metrics and a
// per-bucket top_hits document collection at the innermost level, and
// having predicates lower to a bucket_selector script.
package elastic
