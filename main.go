package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/extract"
	"github.com/sammcj/answer-engine/internal/history"
	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sammcj/answer-engine/internal/pipeline"
	"github.com/sammcj/answer-engine/internal/rag"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sammcj/answer-engine/internal/search/bochaai"
	"github.com/sammcj/answer-engine/internal/search/searxng"
	"github.com/sammcj/answer-engine/internal/search/tavily"
	"github.com/sammcj/answer-engine/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// parseLogLevel parses the LOG_LEVEL environment variable and returns
// the appropriate logrus level. Defaults to InfoLevel if not set or
// invalid.
func parseLogLevel() logrus.Level {
	logLevelStr := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	switch logLevelStr {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	app := &cli.App{
		Name:    "answer-engine",
		Usage:   "Retrieval-augmented answer engine with web search and cited answers",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file (optional)",
				EnvVars: []string{"ANSWER_ENGINE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			if lvl := c.String("log-level"); lvl != "" {
				if parsed, err := logrus.ParseLevel(lvl); err == nil {
					logger.SetLevel(parsed)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "Listen address (overrides configuration)",
					},
				},
				Action: func(c *cli.Context) error {
					return runServe(c, logger)
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a single question from the command line",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Value: "balanced",
						Usage: "Optimization mode (speed, balanced, or quality)",
					},
				},
				Action: func(c *cli.Context) error {
					return runAsk(c, logger)
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

// components is the assembled object graph shared by both commands.
type components struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	store    *history.Store
}

func buildComponents(c *cli.Context, logger *logrus.Logger, withHistory bool) (*components, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var providers []search.Provider
	if p := searxng.New(cfg.SearXNG); p != nil {
		providers = append(providers, p)
	}
	if p := tavily.New(cfg.Tavily); p != nil {
		providers = append(providers, p)
	}
	if p := bochaai.New(cfg.BochaAI); p != nil {
		providers = append(providers, p)
	}
	registry := search.NewRegistry(logger, providers...)
	logger.WithField("providers", len(providers)).Info("Search providers configured")

	embedder, err := llm.NewEmbeddingClient(cfg.EmbeddingResolved())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	var store *history.Store
	if withHistory && cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath, logger)
		if err != nil {
			return nil, err
		}
	}

	var recorder pipeline.Recorder
	if store != nil {
		recorder = store
	}

	p := pipeline.New(pipeline.Options{
		Registry:  registry,
		Extractor: extract.New(cfg, logger),
		Reranker:  rag.NewReranker(embedder, logger),
		Clients:   pipeline.CacheSource{Cache: llm.NewCache(cfg.LLM)},
		History:   recorder,
		Logger:    logger,
	})

	return &components{cfg: cfg, pipeline: p, store: store}, nil
}

func runServe(c *cli.Context, logger *logrus.Logger) error {
	comps, err := buildComponents(c, logger, true)
	if err != nil {
		return err
	}
	if comps.store != nil {
		defer func() {
			if err := comps.store.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close history store")
			}
		}()
	}

	addr := c.String("listen")
	if addr == "" {
		addr = comps.cfg.Listen
	}

	srv := server.New(comps.pipeline, comps.store, logger)
	return srv.ListenAndServe(c.Context, addr)
}

func runAsk(c *cli.Context, logger *logrus.Logger) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a question is required, e.g.: answer-engine ask \"what is QUIC\"")
	}

	comps, err := buildComponents(c, logger, false)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		ChatID:    uuid.NewString(),
		MessageID: uuid.NewString(),
		Query:     query,
		Mode:      config.ParseOptimizationMode(c.String("mode")),
	}

	var sources []search.Result
	var suggestions []string
	for ev := range comps.pipeline.Run(c.Context, req) {
		switch ev.Type {
		case pipeline.EventData:
			fmt.Print(ev.Data)
		case pipeline.EventSources:
			sources = ev.Sources
			suggestions = ev.Suggestions
		case pipeline.EventError:
			return fmt.Errorf("%s", ev.Err)
		}
	}
	fmt.Println()

	if len(sources) > 0 {
		fmt.Println("\nSources:")
		for i, s := range sources {
			fmt.Printf("  [%d] %s - %s\n", i+1, s.Title, s.URL)
		}
	}
	if len(suggestions) > 0 {
		fmt.Println("\nRelated:")
		for _, s := range suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	return nil
}
