// Package sqlprops derives structural facts about raw SQL text with regex
// and substring heuristics. It is deliberately not a parser: telemetry stores
// truncate statement text (often at a few hundred characters), and the checks
// here must degrade gracefully on cut-off, oddly formatted, or commented SQL.
// False positives and negatives are possible on deeply nested statements;
// consumers treat every property as a heuristic signal, not a parse-tree fact.
package sqlprops

import (
	"regexp"
	"sort"
	"strings"
)

// Properties are stateless facts derived from one statement's text.
type Properties struct {
	// UsesLiteral is true when an equality comparison against a quoted string
	// or bare numeric literal appears outside bind-marker forms (?, :name, $1).
	UsesLiteral    bool
	UsesBoundParam bool

	HasCTE  bool
	HasJoin bool
	// HasCTEWithJoin requires both a WITH ... AS construct and a JOIN keyword
	// in the same statement. Textual co-occurrence only.
	HasCTEWithJoin bool

	// HasNarrowing is true when any narrowing construct appears: WHERE, IN,
	// EXISTS, HAVING or QUALIFY.
	HasNarrowing bool

	HasOrderByNoLimit     bool
	HasGroupByOrAggregate bool
	HasSelectStar         bool

	// Tables referenced after FROM/JOIN/INTO/UPDATE, upper-cased, deduplicated.
	Tables []string
	// Columns compared by equality, lower-cased, table prefix stripped.
	EqualityColumns []string
}

// Analyzer extracts Properties from SQL text. The interface exists so the
// heuristic implementation can later be swapped for a real parser without
// touching rule evaluation.
type Analyzer interface {
	Analyze(sql string) Properties
}

// PatternAnalyzer is the regex-based Analyzer.
type PatternAnalyzer struct{}

var (
	bindMarkerRe = regexp.MustCompile(`(\?|:[a-zA-Z0-9_]+|\$\d+)`)
	// Equality against a quoted string or a bare numeric literal. Bind
	// markers never match: ? : and $ all fail the leading character classes.
	literalEqRe = regexp.MustCompile(`=\s*('[^']*'|-?\d+(\.\d+)?)`)

	cteRe     = regexp.MustCompile(`(?i)\bwith\s+[a-z0-9_"]+\s+as\s*\(`)
	joinRe    = regexp.MustCompile(`(?i)\bjoin\b`)
	narrowRe  = regexp.MustCompile(`(?i)\b(where|exists|having|qualify)\b|\bin\s*\(`)
	orderByRe = regexp.MustCompile(`(?i)\border\s+by\b`)
	limitRe   = regexp.MustCompile(`(?i)\b(limit\s+\d|fetch\s+(first|next)|top\s+\d)`)
	groupByRe = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	aggRe     = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(`)
	starRe    = regexp.MustCompile(`(?i)\bselect\s+(\*|[a-z0-9_".]+\.\*)`)

	tableRefRe = regexp.MustCompile(`(?i)\b(?:from|join|into|update)\s+([a-z0-9_"$]+(?:\.[a-z0-9_"$]+)*)`)
	equalityRe = regexp.MustCompile(`(?i)(^|[\s(,])((?:[a-z_][a-z0-9_]*\.)*[a-z_][a-z0-9_]*)\s*=`)

	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
)

func (PatternAnalyzer) Analyze(sql string) Properties {
	var p Properties
	if strings.TrimSpace(sql) == "" {
		return p
	}

	p.UsesBoundParam = bindMarkerRe.MatchString(sql)
	p.UsesLiteral = literalEqRe.MatchString(sql)

	p.HasCTE = cteRe.MatchString(sql)
	p.HasJoin = joinRe.MatchString(sql)
	p.HasCTEWithJoin = p.HasCTE && p.HasJoin
	p.HasNarrowing = narrowRe.MatchString(sql)
	p.HasOrderByNoLimit = orderByRe.MatchString(sql) && !limitRe.MatchString(sql)
	p.HasGroupByOrAggregate = groupByRe.MatchString(sql) || aggRe.MatchString(sql)
	p.HasSelectStar = starRe.MatchString(sql)

	p.Tables = extractTables(sql)
	p.EqualityColumns = extractEqualityColumns(sql)

	return p
}

// Analyze runs the default PatternAnalyzer.
func Analyze(sql string) Properties {
	return PatternAnalyzer{}.Analyze(sql)
}

var sqlKeywords = map[string]bool{
	"select": true, "where": true, "and": true, "or": true, "not": true,
	"on": true, "when": true, "then": true, "case": true, "set": true,
	"values": true, "as": true, "by": true, "in": true,
}

func extractTables(sql string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range tableRefRe.FindAllStringSubmatch(sql, -1) {
		name := strings.ToUpper(strings.ReplaceAll(m[1], `"`, ""))
		// A parenthesis right after FROM is a subquery, which the regex
		// cannot capture; anything it did capture is a real reference.
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

func extractEqualityColumns(sql string) []string {
	// String literals may themselves contain "col =" lookalikes.
	cleaned := stringLiteralRe.ReplaceAllString(sql, "''")

	seen := make(map[string]bool)
	var cols []string
	for _, m := range equalityRe.FindAllStringSubmatch(cleaned, -1) {
		ref := strings.ToLower(m[2])
		if i := strings.LastIndex(ref, "."); i >= 0 {
			ref = ref[i+1:]
		}
		if ref == "" || sqlKeywords[ref] || seen[ref] {
			continue
		}
		seen[ref] = true
		cols = append(cols, ref)
	}
	sort.Strings(cols)
	return cols
}
