// Package main provides the CLI entry point for querybridge, a tool
// that converts natural-language questions into backend database
// queries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.datalith.dev/querybridge/backend"
	"go.datalith.dev/querybridge/elastic"
	"go.datalith.dev/querybridge/llm"
	"go.datalith.dev/querybridge/log"
	"go.datalith.dev/querybridge/mongo"
	"go.datalith.dev/querybridge/orchestrator"
	"go.datalith.dev/querybridge/profiler"
	"go.datalith.dev/querybridge/schema"
	"go.datalith.dev/querybridge/server"
	"go.datalith.dev/querybridge/version"
)

const envPrefix = "QUERYBRIDGE"

type config struct {
	Backend        string
	URL            string
	Index          string
	Database       string
	CategoryFields []string
	IgnoreFields   []string
	SampleSize     int
	LLMModel       string
	LLMAPIKey      string
	LLMBaseURL     string
	BucketSize     int
	TopHitsSize    int
	Timeout        time.Duration
}

func (c *config) registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Backend, "backend", "search", "backend kind, one of: search, doc")
	flags.StringVar(&c.URL, "url", "http://localhost:9200", "backend connection URL")
	flags.StringVar(&c.Index, "index", "", "index (search) or collection (doc) name")
	flags.StringVar(&c.Database, "database", "", "database name (doc backend only)")
	flags.StringSliceVar(&c.CategoryFields, "category-fields", nil,
		"fields whose distinct values become enums")
	flags.StringSliceVar(&c.IgnoreFields, "ignore-fields", nil,
		"fields excluded from the schema")
	flags.IntVar(&c.SampleSize, "sample-size", mongo.DefaultSampleSize,
		"documents sampled for schema inference (doc backend only)")
	flags.StringVar(&c.LLMModel, "llm-model", llm.DefaultModel, "completion model")
	flags.StringVar(&c.LLMAPIKey, "llm-api-key", "", "completion API key")
	flags.StringVar(&c.LLMBaseURL, "llm-base-url", "",
		"OpenAI-compatible endpoint override (e.g. a local inference server)")
	flags.IntVar(&c.BucketSize, "bucket-size", elastic.DefaultBucketSize,
		"grouping bucket cap")
	flags.IntVar(&c.TopHitsSize, "top-hits-size", elastic.DefaultTopHitsSize,
		"per-bucket document cap")
	flags.DurationVar(&c.Timeout, "timeout", orchestrator.DefaultStageTimeout,
		"per-stage deadline for LLM and backend calls")
}

// pipeline bundles one configured backend with its LLM parser.
type pipeline struct {
	orch       *orchestrator.Orchestrator
	parser     llm.Parser
	translator backend.Translator
	close      func(context.Context) error
}

func (c *config) newPipeline(ctx context.Context) (*pipeline, error) {
	if c.Index == "" {
		return nil, errors.New("--index is required")
	}

	var llmOpts []llm.Option
	if c.LLMModel != "" {
		llmOpts = append(llmOpts, llm.WithModel(c.LLMModel))
	}

	if c.LLMBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(c.LLMBaseURL))
	}

	parser := llm.New(c.LLMAPIKey, llmOpts...)

	switch c.Backend {
	case "search":
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{c.URL},
		})
		if err != nil {
			return nil, fmt.Errorf("search client: %w", err)
		}

		extractor := elastic.NewSchemaExtractor(client, c.Index,
			elastic.WithCategoryFields(c.CategoryFields...),
			elastic.WithIgnoredFields(c.IgnoreFields...),
		)
		translator := elastic.NewTranslator(
			elastic.WithBucketSize(c.BucketSize),
			elastic.WithTopHitsSize(c.TopHitsSize),
		)

		return &pipeline{
			orch: orchestrator.New(extractor, parser, translator,
				elastic.NewExecutor(client, c.Index),
				orchestrator.WithStageTimeout(c.Timeout)),
			parser:     parser,
			translator: translator,
			close:      func(context.Context) error { return nil },
		}, nil

	case "doc":
		if c.Database == "" {
			return nil, errors.New("--database is required for the doc backend")
		}

		client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(c.URL))
		if err != nil {
			return nil, fmt.Errorf("doc client: %w", err)
		}

		coll := client.Database(c.Database).Collection(c.Index)

		extractor := mongo.NewSchemaExtractor(coll,
			mongo.WithSampleSize(c.SampleSize),
			mongo.WithCategoryFields(c.CategoryFields...),
			mongo.WithIgnoredFields(c.IgnoreFields...),
		)
		translator := mongo.NewTranslator()

		return &pipeline{
			orch: orchestrator.New(extractor, parser, translator,
				mongo.NewExecutor(coll),
				orchestrator.WithStageTimeout(c.Timeout)),
			parser:     parser,
			translator: translator,
			close:      client.Disconnect,
		}, nil
	}

	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func main() {
	cfg := &config{}
	logCfg := log.NewConfig()
	prof := profiler.New()

	rootCmd := &cobra.Command{
		Use:   "querybridge",
		Short: "Convert natural language into database queries",
		Long: `querybridge infers a queryable schema from a search index or document
collection, asks a language model to express a question as structured
filters, validates them, and compiles backend-native queries.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			handler, err := logCfg.NewHandler(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			slog.SetDefault(slog.New(handler))

			return prof.Start()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return prof.Stop()
		},
	}

	cfg.registerFlags(rootCmd.PersistentFlags())
	logCfg.RegisterFlags(rootCmd.PersistentFlags())
	prof.RegisterFlags(rootCmd.PersistentFlags())

	completionErr := logCfg.RegisterCompletions(rootCmd)
	if completionErr != nil {
		fmt.Fprintf(os.Stderr, "register completions: %v\n", completionErr)
	}

	bindEnv(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newQueryCmd(cfg),
		newSchemaCmd(cfg),
		newServeCmd(cfg),
		newVersionCmd(),
	)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// bindEnv lets every flag default from a QUERYBRIDGE_* environment
// variable; explicit flags still win.
func bindEnv(flags *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = flags.Set(f.Name, v.GetString(f.Name))
		}
	})
}

func newQueryCmd(cfg *config) *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "query <natural language question>",
		Short: "Convert one question into backend queries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cfg.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.close(context.Background()) //nolint:errcheck // Shutdown path.

			resp, err := p.orch.Query(cmd.Context(), strings.Join(args, " "), execute)
			if err != nil {
				return err
			}

			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "execute the plans and include results")

	return cmd
}

func newSchemaCmd(cfg *config) *cobra.Command {
	var mappingFile string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the queryable schema",
		Long: `schema prints the field descriptor for the connected backend, or for a
local mapping document (JSON or YAML) given with --mapping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mappingFile != "" {
				data, err := os.ReadFile(mappingFile)
				if err != nil {
					return fmt.Errorf("read mapping: %w", err)
				}

				properties, err := schema.ParseMappingDocument(data)
				if err != nil {
					return err
				}

				fields, err := schema.ParseMapping(properties,
					schema.WithIgnoredFields(cfg.IgnoreFields...))
				if err != nil {
					return err
				}

				return printJSON(cmd, fields)
			}

			p, err := cfg.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.close(context.Background()) //nolint:errcheck // Shutdown path.

			d, err := p.orch.Describe(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd, d)
		},
	}

	cmd.Flags().StringVar(&mappingFile, "mapping", "",
		"mapping document to parse instead of a live backend")

	return cmd
}

func newServeCmd(cfg *config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := cfg.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.close(context.Background()) //nolint:errcheck // Shutdown path.

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(p.orch, p.parser, p.translator).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)

			go func() {
				slog.Info("listening", slog.String("addr", addr))

				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err

			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, map[string]string{
				"version":    version.Version,
				"revision":   version.Revision,
				"go_version": version.GoVersion,
				"platform":   version.GoOS + "/" + version.GoArch,
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	out = append(out, '\n')

	_, err = cmd.OutOrStdout().Write(out)

	return err
}
