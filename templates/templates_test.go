package templates

import "testing"

func TestPlaceholderCount(t *testing.T) {
	cases := []struct {
		sql  string
		want int
	}{
		{"SELECT 1", 0},
		{"SELECT x FROM providers WHERE a = $1 LIMIT $2", 2},
		{"WHERE a = $2 AND b = $1", 2},
		{"WHERE a ILIKE '$1' LIMIT $3", 3},
	}
	for _, c := range cases {
		if got := PlaceholderCount(c.sql); got != c.want {
			t.Fatalf("PlaceholderCount(%q) = %d, want %d", c.sql, got, c.want)
		}
	}
}
