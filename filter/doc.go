// Package filter defines the typed filter intermediate representation
// that sits between the LLM and the backend translators, and the
// machinery to validate untyped documents into it.
//
// The IR is a [Filters] value: a non-empty list of [Slice]s, each an
// AND-joined set of [Condition]s plus optional sorting, limiting,
// grouping, date-histogram interval, and [Aggregation] metrics with
// having predicates. Slices are independent units of query; a request
// with several slices expresses a side-by-side comparison and slice
// order is preserved all the way to results.
//
// [Build] derives both artifacts the pipeline needs from a
// [schema.FieldMap]:
//
//   - a [Validator], the source of truth: it checks field existence,
//     per-type operator legality, and value shapes, applies the
//     documented auto-corrections (reported as [Warning]s rather than
//     errors), and returns a canonical IR. Validation is idempotent:
//     re-validating an accepted document returns it unchanged.
//   - a [Descriptor], the companion prompt descriptor: it enumerates
//     fields, legal operators, and enum values for the prompt
//     generator, and emits the LLM structured-output contract as a
//     JSON Schema via [Descriptor.JSONSchema].
//
// Irrecoverable violations surface as [*Error] values carrying a stable
// kind and the JSON pointer of the offending element.
package filter
