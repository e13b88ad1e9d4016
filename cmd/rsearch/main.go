// Command rsearch queries a recollect database from the terminal, bypassing
// the MCP server. Useful for poking at a store and tuning fusion weights.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dwhitley/recollect/internal/embedder"
	"github.com/dwhitley/recollect/internal/searcher"
	"github.com/dwhitley/recollect/internal/similarity"
	"github.com/dwhitley/recollect/internal/storage"
)

var (
	dbPath         = flag.String("db", "", "Path to the recollect database (default $RECOLLECT_DB_PATH or ~/.recollect/recollect.db)")
	limit          = flag.Int("limit", 10, "Maximum number of results")
	strategy       = flag.String("strategy", "", "Force a strategy: hybrid, semantic, or lexical (default auto)")
	conversationID = flag.String("conversation", "", "Restrict the search to one conversation")
	semanticWeight = flag.Float64("sem-weight", 0, "Semantic fusion weight (0 uses the default 0.6)")
	lexicalWeight  = flag.Float64("lex-weight", 0, "Lexical fusion weight (0 uses the default 0.4)")
	explain        = flag.Bool("explain", false, "Show score arithmetic per result")
	showMetrics    = flag.Bool("metrics", false, "Show per-phase timings")
)

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)

	queryText := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if queryText == "" {
		fmt.Fprintln(os.Stderr, "usage: rsearch [flags] <query>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	path := *dbPath
	if path == "" {
		path = os.Getenv("RECOLLECT_DB_PATH")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("cannot resolve home directory: %v", err)
		}
		path = filepath.Join(home, ".recollect", "recollect.db")
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	gen, err := embedder.NewFromEnv()
	if err != nil {
		log.Fatalf("failed to configure embedder: %v", err)
	}
	defer func() { _ = gen.Close() }()

	ctx := context.Background()
	if err := gen.Initialize(ctx); err != nil {
		log.Printf("embedder unavailable, semantic search degraded: %v", err)
	}

	srch, err := searcher.NewSearcher(store, similarity.New(store, 0), gen, searcher.Config{})
	if err != nil {
		log.Fatalf("failed to build searcher: %v", err)
	}

	opts := searcher.SearchOptions{
		Strategy:       searcher.Strategy(*strategy),
		Limit:          *limit,
		ConversationID: *conversationID,
		Explain:        *explain,
		IncludeMetrics: *showMetrics,
	}
	if *semanticWeight != 0 || *lexicalWeight != 0 {
		opts.Weights = searcher.FusionWeights{Semantic: *semanticWeight, Lexical: *lexicalWeight}
	}

	resp, err := srch.Search(ctx, queryText, opts)
	if err != nil {
		log.Fatalf("search failed: %v", err)
	}

	printResults(queryText, resp)
}

func printResults(queryText string, resp *searcher.SearchResponse) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("%s %s  %s\n", boldGreen("query:"), queryText,
		dim(fmt.Sprintf("(strategy=%s, %d of %d, %s)",
			resp.Strategy, len(resp.Results), resp.Total, resp.Duration.Round(100*time.Microsecond))))
	fmt.Println()

	if len(resp.Results) == 0 {
		fmt.Println(dim("no results"))
		return
	}

	for i, r := range resp.Results {
		fmt.Printf("%s %s  %s\n",
			boldCyan(fmt.Sprintf("%2d.", i+1)),
			yellow(fmt.Sprintf("%.3f", r.Scores.Combined)),
			dim(fmt.Sprintf("[%s] %s", r.MatchType, r.MessageID)))
		fmt.Printf("    %s\n", firstLine(r.Content))
		for _, h := range r.Highlights {
			fmt.Printf("    %s %s\n", dim(">"), h)
		}
		if r.Explanation != "" {
			fmt.Printf("    %s\n", dim(r.Explanation))
		}
	}

	if resp.Metrics != nil {
		m := resp.Metrics
		fmt.Println()
		fmt.Printf("%s analysis=%s semantic=%s lexical=%s fusion=%s total=%s\n",
			dim("timings:"), m.Timings.Analysis, m.Timings.Semantic,
			m.Timings.Lexical, m.Timings.Fusion, m.Timings.Total)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}
