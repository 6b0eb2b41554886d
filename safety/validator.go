// Package safety enforces the read-only query policy applied to every
// statement before execution, whether it came from a bound template or from
// model generation.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/carenav-org/querykit/sqlnorm"
)

type Severity string

const (
	SeverityUnsafe  Severity = "unsafe"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Severity Severity
	Category string
	Message  string
	Fragment string
}

// Report is the full verdict for one candidate statement. A statement is
// accepted iff Safe is true: no unsafe issue and Score >= 0.7.
type Report struct {
	Safe             bool
	Score            float64
	Issues           []Issue
	ReferencedTables []string
	Complexity       int
}

type Config struct {
	MaxJoins      int
	MaxSubqueries int
	MaxWhere      int
	MaxRows       int
	MaxComplexity int
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxJoins <= 0 {
		out.MaxJoins = 5
	}
	if out.MaxSubqueries <= 0 {
		out.MaxSubqueries = 3
	}
	if out.MaxWhere <= 0 {
		out.MaxWhere = 10
	}
	if out.MaxRows <= 0 {
		out.MaxRows = 1000
	}
	if out.MaxComplexity <= 0 {
		out.MaxComplexity = 50
	}
	return out
}

type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

var forbiddenKeywords = []string{
	"insert", "update", "delete", "drop", "truncate", "alter",
	"create", "grant", "revoke", "copy", "execute", "call",
	"merge", "replace", "upsert", "pg_", "dblink",
}

var allowedFunctions = map[string]struct{}{
	// aggregation
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
	"stddev": {}, "variance": {},
	// string
	"upper": {}, "lower": {}, "trim": {}, "ltrim": {}, "rtrim": {},
	"substring": {}, "length": {}, "concat": {},
	"coalesce": {}, "nullif": {}, "ilike": {}, "like": {},
	// date
	"now": {}, "current_date": {}, "current_timestamp": {},
	"extract": {}, "date_part": {}, "age": {}, "date_trunc": {},
	// math
	"abs": {}, "ceil": {}, "floor": {}, "round": {}, "power": {}, "sqrt": {},
	// conversion
	"cast": {}, "to_char": {}, "to_date": {}, "to_number": {},
}

var allowedTables = map[string]struct{}{
	"providers":           {},
	"drg_procedures":      {},
	"provider_procedures": {},
	"provider_ratings":    {},
	"template_catalog":    {},
	"csv_column_mappings": {},
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`'\s*or\s+'`),
	regexp.MustCompile(`'\s*and\s+'`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`(?s)/\*.*\*/`),
	regexp.MustCompile(`;\s*drop`),
	regexp.MustCompile(`union\s+select`),
	regexp.MustCompile(`exec\s*\(`),
}

var keywordRes = buildKeywordRes()

func buildKeywordRes() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		if strings.HasSuffix(kw, "_") {
			// pg_ matches any pg_-prefixed identifier.
			out[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw))
			continue
		}
		out[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return out
}

// Validate applies the layered policy and produces the scored report.
func (v *Validator) Validate(sql string) Report {
	var issues []Issue

	cleaned := cleanSQL(sql)
	if cleaned == "" {
		return unsafeReport([]Issue{{
			Severity: SeverityUnsafe, Category: "syntax", Message: "empty SQL statement",
		}})
	}

	// Injection patterns run against the raw text: comments are themselves
	// one of the signatures.
	lower := strings.ToLower(sql)
	for _, re := range injectionPatterns {
		if loc := re.FindString(lower); loc != "" {
			issues = append(issues, Issue{
				Severity: SeverityUnsafe,
				Category: "injection",
				Message:  fmt.Sprintf("potential injection pattern %q", re.String()),
				Fragment: loc,
			})
		}
	}

	cleanedLower := strings.ToLower(cleaned)
	if strings.Contains(cleanedLower, ";") {
		issues = append(issues, Issue{
			Severity: SeverityUnsafe, Category: "syntax",
			Message: "multiple SQL statements detected",
		})
	}
	for _, kw := range forbiddenKeywords {
		if keywordRes[kw].MatchString(cleanedLower) {
			issues = append(issues, Issue{
				Severity: SeverityUnsafe, Category: "forbidden_keyword",
				Message:  fmt.Sprintf("forbidden keyword detected: %s", kw),
				Fragment: kw,
			})
		}
	}

	stats, err := sqlnorm.Analyze(cleaned)
	if err != nil {
		issues = append(issues, Issue{
			Severity: SeverityUnsafe, Category: "syntax",
			Message: fmt.Sprintf("failed to parse SQL: %v", err),
		})
		return unsafeReport(issues)
	}

	if stats.Statements != 1 {
		issues = append(issues, Issue{
			Severity: SeverityUnsafe, Category: "syntax",
			Message: "multiple SQL statements detected",
		})
	}
	if !stats.IsSelect {
		issues = append(issues, Issue{
			Severity: SeverityUnsafe, Category: "statement_type",
			Message: "only SELECT statements are allowed",
		})
	}
	for _, table := range stats.Tables {
		if _, ok := allowedTables[table]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityUnsafe, Category: "table_access",
				Message:  fmt.Sprintf("access to non-whitelisted table: %s", table),
				Fragment: table,
			})
		}
	}
	for _, fn := range stats.FuncNames {
		if _, ok := allowedFunctions[fn]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning, Category: "function",
				Message:  fmt.Sprintf("non-whitelisted function used: %s", fn),
				Fragment: fn,
			})
		}
	}
	if stats.Joins > v.cfg.MaxJoins {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: fmt.Sprintf("too many JOINs: %d (max %d)", stats.Joins, v.cfg.MaxJoins),
		})
	}
	if stats.Subqueries > v.cfg.MaxSubqueries {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: fmt.Sprintf("too many subqueries: %d (max %d)", stats.Subqueries, v.cfg.MaxSubqueries),
		})
	}
	if stats.WhereCount > v.cfg.MaxWhere {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: fmt.Sprintf("too many WHERE clauses: %d (max %d)", stats.WhereCount, v.cfg.MaxWhere),
		})
	}
	if !stats.HasLimit {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: "no LIMIT clause specified",
		})
	} else if stats.LimitValue > v.cfg.MaxRows {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: fmt.Sprintf("LIMIT too high: %d (max %d)", stats.LimitValue, v.cfg.MaxRows),
		})
	}
	if stats.SelectStar {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "data_exposure",
			Message: "SELECT * may expose sensitive columns",
		})
	}

	complexity := stats.Complexity()
	if complexity > v.cfg.MaxComplexity {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Category: "complexity",
			Message: fmt.Sprintf("query complexity %d exceeds the cap %d", complexity, v.cfg.MaxComplexity),
		})
	}
	score := score(issues, complexity)
	safe := score >= 0.7 && !hasUnsafe(issues)

	return Report{
		Safe:             safe,
		Score:            score,
		Issues:           issues,
		ReferencedTables: stats.Tables,
		Complexity:       complexity,
	}
}

// cleanSQL strips comments, collapses whitespace, and drops the trailing
// semicolon before structural analysis.
func cleanSQL(sql string) string {
	s := regexp.MustCompile(`--[^\n]*`).ReplaceAllString(sql, "")
	s = regexp.MustCompile(`(?s)/\*.*?\*/`).ReplaceAllString(s, "")
	s = regexp.MustCompile(`\s+`).ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

func score(issues []Issue, complexity int) float64 {
	s := 1.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityUnsafe:
			s -= 0.5
		case SeverityWarning:
			s -= 0.1
		}
	}
	switch {
	case complexity > 20:
		s -= 0.2
	case complexity > 10:
		s -= 0.1
	}
	if s < 0 {
		return 0
	}
	return s
}

func hasUnsafe(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityUnsafe {
			return true
		}
	}
	return false
}

func unsafeReport(issues []Issue) Report {
	return Report{
		Safe:       false,
		Score:      0,
		Issues:     issues,
		Complexity: 100,
	}
}
