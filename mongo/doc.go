// Package mongo adapts the query-builder pipeline to a document-store
// backend: schema inference from sampled documents, filter-IR
// translation to aggregation pipelines, and plan execution through the
// official driver.
//
// Grouping lowers to a single $group stage with a compound _id whose
// keys are the grouped paths with dots replaced by underscores; date
// keys are bucketed with $dateToString. Having predicates become a
// $match stage after the $group, and each bucket carries a $push of the
// full documents it aggregates.
package mongo
