// Package orchestrator wires schema extraction, prompt generation,
// language-model parsing, validation, translation, and execution into
// one call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/filter"
	"go.datalith.dev/querybridge/llm"
	"go.datalith.dev/querybridge/prompt"
	"go.datalith.dev/querybridge/schema"
)

// Sentinel errors for pipeline stages.
var (
	// ErrTimeout indicates a stage exceeded its deadline; the whole call
	// fails.
	ErrTimeout = errors.New("timeout")
	// ErrLLM indicates the language model call failed or produced
	// unusable output.
	ErrLLM = errors.New("llm")
)

// DefaultStageTimeout bounds each external call (LLM, backend).
const DefaultStageTimeout = 30 * time.Second

// Response is the outcome of one orchestrator call.
type Response struct {
	ID                   string           `json:"id"`
	NaturalLanguageQuery string           `json:"natural_language_query"`
	ExtractedFilters     *filter.Filters  `json:"extracted_filters"`
	DatabaseQueries      []backend.Plan   `json:"database_queries"`
	Results              []backend.Result `json:"results,omitempty"`
	Metadata             map[string]any   `json:"metadata,omitempty"`
}

// Orchestrator holds the pipeline collaborators. Construct with [New];
// concurrent calls are safe.
type Orchestrator struct {
	extractor  schema.Extractor
	parser     llm.Parser
	translator backend.Translator
	executor   backend.Executor
	generator  *prompt.Generator
	timeout    time.Duration
	logger     *slog.Logger

	// Validator and descriptor are built once from the first successful
	// extraction and reused afterwards.
	mu         sync.Mutex
	validator  *filter.Validator
	descriptor *filter.Descriptor
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimeout overrides the per-stage deadline for external calls.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithPromptGenerator overrides the prompt generator.
func WithPromptGenerator(g *prompt.Generator) Option {
	return func(o *Orchestrator) {
		o.generator = g
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator. The extractor is wrapped in a
// [schema.Cache] so the field map is fetched at most once.
func New(
	extractor schema.Extractor,
	parser llm.Parser,
	translator backend.Translator,
	executor backend.Executor,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		extractor:  schema.NewCache(extractor),
		parser:     parser,
		translator: translator,
		executor:   executor,
		generator:  prompt.NewGenerator(),
		timeout:    DefaultStageTimeout,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Query runs the full pipeline: extract schema, prompt the model,
// validate the returned document, translate it, and optionally execute
// the plans. Auto-correction warnings are reported under
// Metadata["warnings"].
func (o *Orchestrator) Query(ctx context.Context, input string, execute bool) (*Response, error) {
	validator, descriptor, err := o.build(ctx)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := o.generator.System(descriptor)
	if err != nil {
		return nil, err
	}

	raw, err := o.parse(ctx, systemPrompt, input)
	if err != nil {
		return nil, err
	}

	doc, warnings, err := validator.ValidateJSON(raw)
	if err != nil {
		return nil, err
	}

	fields, err := o.extractor.Extract(ctx)
	if err != nil {
		return nil, err
	}

	plans, err := o.translator.Translate(doc, fields)
	if err != nil {
		return nil, err
	}

	response := &Response{
		ID:                   uuid.NewString(),
		NaturalLanguageQuery: input,
		ExtractedFilters:     doc,
		DatabaseQueries:      plans,
	}

	if len(warnings) > 0 {
		response.Metadata = map[string]any{"warnings": warnings}
	}

	if execute {
		results, err := o.execute(ctx, plans)
		if err != nil {
			return nil, err
		}

		response.Results = results
	}

	o.logger.Debug("query complete",
		slog.String("id", response.ID),
		slog.Int("slices", len(plans)),
		slog.Bool("executed", execute),
	)

	return response, nil
}

// QueryRaw executes a caller-supplied backend plan directly, skipping
// parsing, validation, and translation. size caps returned documents
// when the plan sets no cap of its own.
func (o *Orchestrator) QueryRaw(ctx context.Context, plan backend.Plan, size int) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.executor.ExecuteRaw(ctx, plan, size)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: execute: %w", ErrTimeout, err)
		}

		return nil, err
	}

	return &Response{
		ID:              uuid.NewString(),
		DatabaseQueries: []backend.Plan{plan},
		Results:         []backend.Result{result},
	}, nil
}

// Describe returns the field descriptor for the connected backend,
// extracting the schema if needed.
func (o *Orchestrator) Describe(ctx context.Context) (*filter.Descriptor, error) {
	_, descriptor, err := o.build(ctx)

	return descriptor, err
}

// build returns the validator and descriptor, constructing them from
// the extracted schema on first use. Failed extractions are not cached.
func (o *Orchestrator) build(ctx context.Context) (*filter.Validator, *filter.Descriptor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.validator != nil {
		return o.validator, o.descriptor, nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	fields, err := o.extractor.Extract(extractCtx)
	if err != nil {
		if errors.Is(extractCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w: extract: %w", ErrTimeout, err)
		}

		return nil, nil, err
	}

	validator, descriptor, err := filter.Build(fields)
	if err != nil {
		return nil, nil, err
	}

	o.validator = validator
	o.descriptor = descriptor

	return validator, descriptor, nil
}

func (o *Orchestrator) parse(ctx context.Context, systemPrompt, input string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.parser.Parse(ctx, systemPrompt, input)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: parse: %w", ErrTimeout, err)
		}

		return nil, fmt.Errorf("%w: %w", ErrLLM, err)
	}

	return raw, nil
}

// execute runs one executor call per plan concurrently and collects
// results in plan order. Per-plan backend failures surface inside the
// Results; only cancellation fails the call.
func (o *Orchestrator) execute(ctx context.Context, plans []backend.Plan) ([]backend.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	results := make([]backend.Result, len(plans))
	g, gctx := errgroup.WithContext(ctx)

	for i, plan := range plans {
		g.Go(func() error {
			batch, err := o.executor.Execute(gctx, []backend.Plan{plan})
			if err != nil {
				return err
			}

			if len(batch) != 1 {
				return fmt.Errorf("%w: expected one result, got %d", backend.ErrBackend, len(batch))
			}

			results[i] = batch[0]

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: execute: %w", ErrTimeout, err)
		}

		return nil, err
	}

	return results, nil
}
