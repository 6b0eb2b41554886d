// Package templates owns the template_catalog rows: persistence, vector
// retrieval, edit-distance reranking, and insert-on-learn.
package templates

import (
	"regexp"
	"strconv"
	"time"
)

// Template is one catalog row. Placeholders in RawSQL form the contiguous
// set $1..$k; CanonicalSQL is the normalized retrieval key.
type Template struct {
	ID           int64
	CanonicalSQL string
	RawSQL       string
	Comment      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Match is a retrieval candidate with its blended confidence.
type Match struct {
	Template     Template
	Similarity   float64 // cosine similarity, 0..1
	EditDistance int     // Levenshtein vs the query's canonical SQL
	Confidence   float64 // 0.7*similarity + 0.3*(1 - dist/maxlen)
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// PlaceholderCount returns the highest $n referenced by sql.
func PlaceholderCount(sql string) int {
	max := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(sql, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}
