package searcher

import (
	"strings"

	"github.com/dwhitley/recollect/internal/query"
)

// Strategy names which retrieval branches a search will run.
type Strategy string

const (
	StrategySemantic Strategy = "semantic"
	StrategyLexical  Strategy = "lexical"
	StrategyHybrid   Strategy = "hybrid"

	// StrategyError tags a response whose branches all failed. The response
	// carries no results but is still returned rather than an error.
	StrategyError Strategy = "error"

	// StrategyAuto lets the analyzer pick.
	StrategyAuto Strategy = ""
)

// Complexity buckets a query by how much structure it carries.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

const (
	simpleTermMax   = 2
	moderateTermMax = 5
)

// Analysis summarizes query structure for strategy selection.
type Analysis struct {
	TermCount    int
	HasOperators bool
	Complexity   Complexity
}

// analyzeQuery inspects raw query text. It runs before sanitization, so
// operator detection sees the user's original characters.
func analyzeQuery(text string) Analysis {
	a := Analysis{
		TermCount:    len(strings.Fields(text)),
		HasOperators: strings.ContainsAny(text, query.OperatorChars),
	}
	switch {
	case a.TermCount <= simpleTermMax && !a.HasOperators:
		a.Complexity = ComplexitySimple
	case a.TermCount <= moderateTermMax:
		a.Complexity = ComplexityModerate
	default:
		a.Complexity = ComplexityComplex
	}
	return a
}

// chooseStrategy picks the retrieval strategy. An explicit override always
// wins. Otherwise: one plain term reads as a concept lookup (semantic),
// operators or long queries read as precise lookups (lexical), and everything
// in between gets both branches.
func chooseStrategy(a Analysis, override Strategy) Strategy {
	switch override {
	case StrategySemantic, StrategyLexical, StrategyHybrid:
		return override
	}
	if a.TermCount == 1 && !a.HasOperators {
		return StrategySemantic
	}
	if a.HasOperators || a.TermCount > moderateTermMax {
		return StrategyLexical
	}
	return StrategyHybrid
}
