// Package query turns raw user input into a safe FTS5 match expression.
package query

import (
	"strings"
	"unicode"
)

// MatchMode selects how the lexical index should match a query.
type MatchMode string

const (
	ModeExact  MatchMode = "exact"  // quoted literal phrase
	ModePrefix MatchMode = "prefix" // trailing-wildcard prefix match
	ModeFuzzy  MatchMode = "fuzzy"  // whitespace terms joined with implicit AND

	// ModeAuto lets Parse detect the mode from the query text.
	ModeAuto MatchMode = ""
)

// MaxQueryLength bounds raw query text before parsing.
const MaxQueryLength = 1000

// reserved is the set of characters with special meaning to the FTS engine.
// Terms containing them are neutralized by string-quoting; a term made only
// of reserved characters is dropped as operator noise.
const reserved = `"'()[]*\`

// OperatorChars is the set used for operator-presence detection. The hybrid
// router uses this flag when picking a strategy.
const OperatorChars = `"'()+-*`

// Parsed is the result of sanitizing one query. Produced fresh per call,
// never persisted.
type Parsed struct {
	Original     string
	Sanitized    string
	Mode         MatchMode
	Valid        bool
	Reason       string // set only when Valid is false
	HasOperators bool
}

// Parse sanitizes raw query text into a safe lexical expression and
// classifies the intended match mode. Pure function of its inputs.
func Parse(text string, hint MatchMode) *Parsed {
	p := &Parsed{
		Original:     text,
		HasOperators: strings.ContainsAny(text, OperatorChars),
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return p.invalid("query is empty")
	}
	if len(text) > MaxQueryLength {
		return p.invalid("query exceeds maximum length")
	}
	if onlyOperators(trimmed) {
		return p.invalid("query contains only operator characters")
	}

	mode := hint
	if mode == ModeAuto {
		mode = detectMode(trimmed)
	}
	p.Mode = mode

	switch mode {
	case ModeExact:
		return p.exact(trimmed)
	case ModePrefix:
		return p.prefix(trimmed)
	case ModeFuzzy:
		return p.fuzzy(trimmed)
	default:
		return p.invalid("unknown match mode: " + string(mode))
	}
}

// detectMode classifies unhinted query text: matching wrap quotes mean an
// exact phrase, a trailing wildcard means prefix, everything else is fuzzy.
func detectMode(trimmed string) MatchMode {
	if isQuoteWrapped(trimmed) {
		return ModeExact
	}
	if strings.HasSuffix(trimmed, "*") {
		return ModePrefix
	}
	return ModeFuzzy
}

func isQuoteWrapped(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first == last && (first == '"' || first == '\'')
}

// exact strips the wrapping quotes and re-quotes the content so the index
// treats it as one literal phrase.
func (p *Parsed) exact(trimmed string) *Parsed {
	inner := trimmed
	if isQuoteWrapped(trimmed) {
		inner = trimmed[1 : len(trimmed)-1]
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return p.invalid("quoted phrase is empty")
	}
	p.Sanitized = quoteString(inner)
	p.Valid = true
	return p
}

// prefix strips trailing wildcard markers, quotes the stem, and appends
// exactly one trailing wildcard outside the closing quote (the FTS5 prefix
// form for a quoted phrase).
func (p *Parsed) prefix(trimmed string) *Parsed {
	stem := strings.TrimSpace(strings.TrimRight(trimmed, "*"))
	if stem == "" {
		return p.invalid("prefix query has no stem")
	}
	p.Sanitized = quoteString(stem) + "*"
	p.Valid = true
	return p
}

// fuzzy splits on whitespace, drops terms that are pure operator noise, and
// joins the quoted survivors with FTS5's implicit AND (whitespace). Each
// term is quoted individually so punctuation inside it ("can't", "(page)")
// reads as literal text to the index, never as query syntax.
func (p *Parsed) fuzzy(trimmed string) *Parsed {
	var terms []string
	for _, term := range strings.Fields(trimmed) {
		if stripReserved(term) == "" {
			continue
		}
		terms = append(terms, quoteString(term))
	}
	if len(terms) == 0 {
		return p.invalid("no searchable terms after sanitization")
	}
	p.Sanitized = strings.Join(terms, " ")
	p.Valid = true
	return p
}

func (p *Parsed) invalid(reason string) *Parsed {
	p.Valid = false
	p.Reason = reason
	return p
}

// quoteString wraps s as an FTS5 string, doubling embedded double quotes.
// FTS5 has no backslash escape; quoting is the only way to make reserved
// characters literal.
func quoteString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// stripReserved removes reserved characters, used to test whether a term has
// any searchable content left.
func stripReserved(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) {
			return -1
		}
		return r
	}, s)
}

// onlyOperators reports whether text consists solely of operator and
// punctuation characters.
func onlyOperators(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		return false
	}
	return true
}
