package sqlnorm

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v2"
)

// QueryStats are the structural facts the safety layer scores against.
type QueryStats struct {
	Statements  int
	IsSelect    bool
	Joins       int
	Subqueries  int
	Functions   int
	WhereCount  int
	OrderCount  int
	Tables      []string
	FuncNames   []string
	SelectStar  bool
	HasLimit    bool
	LimitValue  int // -1 when absent or not a plain integer
	Placeholder bool
}

// Analyze parses sql and collects QueryStats in a single tree walk.
func Analyze(sql string) (*QueryStats, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(tree.Stmts) == 0 {
		return nil, fmt.Errorf("empty statement")
	}

	stats := &QueryStats{
		Statements: len(tree.Stmts),
		LimitValue: -1,
	}

	first := tree.Stmts[0].GetStmt()
	if sel := first.GetSelectStmt(); sel != nil && sel.Op == pg_query.SetOperation_SETOP_NONE {
		stats.IsSelect = true
	}

	tables := map[string]struct{}{}
	for _, raw := range tree.Stmts {
		walkNodes(raw.GetStmt(), func(n *pg_query.Node) {
			switch {
			case n.GetJoinExpr() != nil:
				stats.Joins++
			case n.GetSubLink() != nil, n.GetRangeSubselect() != nil:
				stats.Subqueries++
			case n.GetFuncCall() != nil:
				stats.Functions++
				if name := funcName(n.GetFuncCall()); name != "" {
					stats.FuncNames = append(stats.FuncNames, name)
				}
			case n.GetRangeVar() != nil:
				if rel := n.GetRangeVar().Relname; rel != "" {
					tables[strings.ToLower(rel)] = struct{}{}
				}
			case n.GetParamRef() != nil:
				stats.Placeholder = true
			case n.GetColumnRef() != nil:
				for _, f := range n.GetColumnRef().Fields {
					if f.GetAStar() != nil {
						stats.SelectStar = true
					}
				}
			case n.GetSelectStmt() != nil:
				sel := n.GetSelectStmt()
				if sel.WhereClause != nil {
					stats.WhereCount++
				}
				if len(sel.SortClause) > 0 {
					stats.OrderCount++
				}
				if sel.LimitCount != nil {
					stats.HasLimit = true
					if c := sel.LimitCount.GetAConst(); c != nil {
						if iv := c.GetVal().GetInteger(); iv != nil {
							stats.LimitValue = int(iv.Ival)
						}
					}
				}
			}
		})
	}

	for t := range tables {
		stats.Tables = append(stats.Tables, t)
	}
	sort.Strings(stats.Tables)
	return stats, nil
}

// funcName returns the unqualified lowercase function name.
func funcName(fc *pg_query.FuncCall) string {
	if len(fc.Funcname) == 0 {
		return ""
	}
	last := fc.Funcname[len(fc.Funcname)-1]
	if s := last.GetString_(); s != nil {
		return strings.ToLower(s.Str)
	}
	return ""
}

// SafetyPrecheck verifies sql is exactly one SELECT statement.
func SafetyPrecheck(sql string) error {
	stats, err := Analyze(sql)
	if err != nil {
		return err
	}
	if stats.Statements != 1 {
		return fmt.Errorf("expected a single statement, found %d", stats.Statements)
	}
	if !stats.IsSelect {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	return nil
}

// ReferencedTables returns the distinct lowercase table names sql touches.
// Unparseable statements yield nil.
func ReferencedTables(sql string) []string {
	stats, err := Analyze(sql)
	if err != nil {
		return nil
	}
	return stats.Tables
}

// ComplexityScore mirrors the safety policy's weights: joins count double,
// subqueries triple, plus one per WHERE clause, function call, and ORDER BY.
// Unparseable statements score 100.
func ComplexityScore(sql string) int {
	stats, err := Analyze(sql)
	if err != nil {
		return 100
	}
	return stats.Complexity()
}

// Complexity computes the score from already-collected stats.
func (s *QueryStats) Complexity() int {
	return 1 + 2*s.Joins + 3*s.Subqueries + s.WhereCount + s.Functions + s.OrderCount
}
