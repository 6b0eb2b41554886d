// Command querykit answers natural-language questions about hospital
// procedure costs and ratings against a Postgres database.
//
//	querykit migrate                 apply the schema
//	querykit seed                    load the starting template catalog
//	querykit ask "cheapest DRG 470 in NY, top 5"
//	querykit stats                   show catalog counters
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jessevdk/go-flags"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/carenav-org/querykit/config"
	"github.com/carenav-org/querykit/embedder"
	"github.com/carenav-org/querykit/engine"
	"github.com/carenav-org/querykit/migrate"
)

var version = "dev"

type options struct {
	Schema  string `long:"schema" description:"Postgres schema to operate in" value-name:"name" default:"public"`
	JSON    bool   `long:"json" description:"Print the full response as JSON"`
	Help    bool   `long:"help" description:"Show this help"`
	Version bool   `long:"version" description:"Show this version"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...] migrate|seed|stats|ask <question>"
	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	if len(args) == 0 {
		fmt.Print("No command is specified!\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	settings, err := config.FromEnv()
	if err != nil {
		fatal(err)
	}
	log, err := newLogger(settings.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		fatal(fmt.Errorf("connect: %w", err))
	}
	defer pool.Close()

	if err := run(ctx, args, opts, settings, pool, log); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, args []string, opts options, settings config.Settings, pool *pgxpool.Pool, log *zap.Logger) error {
	switch args[0] {
	case "migrate":
		if err := migrate.ApplyPostgres(ctx, pool, opts.Schema); err != nil {
			return err
		}
		fmt.Println("schema up to date")
		return nil

	case "seed":
		eng, err := newEngine(settings, pool, log)
		if err != nil {
			return err
		}
		n, err := eng.Store().Seed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d templates\n", n)
		return nil

	case "stats":
		eng, err := newEngine(settings, pool, log)
		if err != nil {
			return err
		}
		st, err := eng.Store().Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("templates: %d (%d embedded), avg canonical length %.0f\n",
			st.TotalTemplates, st.WithEmbeddings, st.AvgSQLLength)
		return nil

	case "ask":
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if question == "" {
			return fmt.Errorf("ask requires a question")
		}
		eng, err := newEngine(settings, pool, log)
		if err != nil {
			return err
		}
		resp := eng.Ask(ctx, question)
		return printResponse(resp, opts.JSON)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newEngine(settings config.Settings, pool *pgxpool.Pool, log *zap.Logger) (*engine.Engine, error) {
	client := openai.NewClient(settings.LLMAPIKey)
	emb, err := embedder.NewOpenAI(embedder.OpenAIConfig{
		Client:     client,
		Model:      settings.EmbedModel,
		Dimensions: settings.EmbedDim,
		Timeout:    settings.EmbedTimeout,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Settings: settings,
		Pool:     pool,
		Client:   client,
		Embedder: emb,
		Logger:   log,
	})
}

func printResponse(resp engine.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Println(resp.Answer)
	if resp.SQL != "" {
		fmt.Printf("\nSQL: %s\n", resp.SQL)
	}
	for _, row := range resp.Rows {
		fmt.Printf("%v\n", row)
	}
	fmt.Printf("\n(%d row(s), %dms)\n", len(resp.Rows), resp.ElapsedMs)
	if !resp.Success {
		os.Exit(1)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "querykit:", err)
	os.Exit(1)
}
