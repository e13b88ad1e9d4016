// Package searcher routes queries between semantic and lexical retrieval and
// fuses the branch results into one ranked list.
//
// Strategy selection looks at the raw query: a single plain term reads as a
// concept lookup and goes semantic-only; operators or long queries read as
// precise lookups and go lexical-only; everything in between runs both
// branches concurrently and fuses them with weighted score combination
// (semantic 0.6 / lexical 0.4 by default).
//
// A message found by both branches gets both weighted terms added into its
// combined score; a message found by one branch contributes only that term.
// Weights are independent multipliers, so combined scores are only comparable
// between queries run under the same weight configuration.
//
// Branch failures degrade the response instead of propagating: if one hybrid
// branch fails the other's results are returned and the failure is logged; if
// every branch fails the response is empty and tagged with the "error"
// strategy. Only invalid input — an unsanitizable query, bad weights, an
// out-of-range threshold — returns an error.
//
// Responses are cached in a short-TTL LRU keyed by the full option set, and
// per-phase timings for recent queries are retained in a bounded ring
// addressable by query ID.
//
// Example usage:
//
//	s, err := searcher.NewSearcher(store, simSearcher, gen, searcher.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := s.Search(ctx, "database connection pooling", searcher.SearchOptions{
//	    Limit:    10,
//	    UseCache: true,
//	})
package searcher
