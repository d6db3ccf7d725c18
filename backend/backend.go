// Package backend defines the contracts shared by backend adapters: the
// plan and result shapes, and the translator and executor interfaces the
// orchestrator consumes.
package backend

import (
	"context"
	"errors"

	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/schema"
)

// Sentinel errors shared by backend adapters.
var (
	// ErrTranslate indicates an IR that passed validation could not be
	// lowered to a plan. This is fatal: it points at a validator gap.
	ErrTranslate = errors.New("translate")
	// ErrBackend indicates the backing store refused or failed a call.
	ErrBackend = errors.New("backend")
)

// Plan is a backend-native query serialized as a JSON object. Plans
// round-trip through encoding/json unchanged.
type Plan map[string]any

// Result is the uniform outcome of executing one plan. A failed slice
// carries Success=false and the backend message in Error; other slices
// of the same call still return normally.
type Result struct {
	TotalHits    int              `json:"total_hits"`
	Documents    []map[string]any `json:"documents"`
	Aggregations map[string]any   `json:"aggregations"`
	Success      bool             `json:"success"`
	Error        string           `json:"error,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// Translator compiles a validated filter IR into backend plans, one per
// slice, preserving slice order. Translation is pure: the same IR and
// field map always produce identical plans.
type Translator interface {
	Translate(doc *filter.Filters, fields *schema.FieldMap) ([]Plan, error)
}

// Executor runs plans against a backing store.
type Executor interface {
	// Execute runs each plan and returns one Result per plan in plan
	// order. Per-plan failures are reported inside the Result, not as
	// an error.
	Execute(ctx context.Context, plans []Plan) ([]Result, error)
	// ExecuteRaw runs a single caller-supplied plan, capping document
	// results at size when the plan does not set its own cap.
	ExecuteRaw(ctx context.Context, plan Plan, size int) (Result, error)
}
