package sqlnorm

import (
	"strings"
	"testing"
)

func TestNormalize_ReplacesLiterals(t *testing.T) {
	sql := `SELECT p.provider_name
FROM providers p
JOIN provider_procedures pp ON p.provider_id = pp.provider_id
WHERE pp.drg_code = '470' AND p.provider_state = 'NY'
ORDER BY pp.average_covered_charges
LIMIT 5`

	res := Normalize(sql)
	if res.Degraded {
		t.Fatalf("expected AST path, got degraded result")
	}
	want := []string{"470", "NY", "5"}
	if len(res.Constants) != len(want) {
		t.Fatalf("constants = %v, want %v", res.Constants, want)
	}
	for i := range want {
		if res.Constants[i] != want[i] {
			t.Fatalf("constants[%d] = %q, want %q", i, res.Constants[i], want[i])
		}
	}
	if !strings.Contains(res.Canonical, "'$1'") {
		t.Fatalf("string literal not parameterized: %s", res.Canonical)
	}
	if !strings.Contains(res.Canonical, "$3") {
		t.Fatalf("numeric literal not parameterized: %s", res.Canonical)
	}
	for _, leaked := range []string{"470", "'ny'", " 5"} {
		if strings.Contains(res.Canonical, leaked) {
			t.Fatalf("literal %q leaked into canonical form: %s", leaked, res.Canonical)
		}
	}
	if res.Canonical != strings.ToLower(res.Canonical) {
		t.Fatalf("canonical form is not lowercase: %s", res.Canonical)
	}
}

func TestNormalize_PreservesExistingPlaceholders(t *testing.T) {
	sql := `SELECT provider_name FROM providers WHERE provider_state = $1 LIMIT $2`

	res := Normalize(sql)
	if res.Degraded {
		t.Fatalf("expected AST path, got degraded result")
	}
	if len(res.Constants) != 0 {
		t.Fatalf("placeholders must not be extracted as constants: %v", res.Constants)
	}
	if !strings.Contains(res.Canonical, "$1") || !strings.Contains(res.Canonical, "$2") {
		t.Fatalf("placeholders lost: %s", res.Canonical)
	}
}

func TestNormalize_NewPlaceholdersContinueNumbering(t *testing.T) {
	sql := `SELECT provider_name FROM providers WHERE provider_state = $1 AND provider_city = 'Miami' LIMIT 10`

	res := Normalize(sql)
	if len(res.Constants) != 2 {
		t.Fatalf("constants = %v, want [Miami 10]", res.Constants)
	}
	if res.Constants[0] != "Miami" || res.Constants[1] != "10" {
		t.Fatalf("constants = %v, want [Miami 10]", res.Constants)
	}
	if !strings.Contains(res.Canonical, "$1") {
		t.Fatalf("pre-existing $1 lost: %s", res.Canonical)
	}
	if !strings.Contains(res.Canonical, "'$2'") || !strings.Contains(res.Canonical, "$3") {
		t.Fatalf("new placeholders should continue after $1: %s", res.Canonical)
	}
}

func TestNormalize_QuotedPlaceholderUntouched(t *testing.T) {
	sql := `SELECT drg_description FROM drg_procedures WHERE drg_description ILIKE '$1' LIMIT $2`

	res := Normalize(sql)
	if len(res.Constants) != 0 {
		t.Fatalf("quoted placeholder treated as a literal: %v", res.Constants)
	}
	if !strings.Contains(res.Canonical, "'$1'") {
		t.Fatalf("quoted placeholder lost: %s", res.Canonical)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	queries := []string{
		`SELECT provider_name FROM providers WHERE provider_state = 'TX' LIMIT 10`,
		`SELECT d.drg_code, AVG(pp.average_covered_charges) FROM drg_procedures d JOIN provider_procedures pp ON d.drg_code = pp.drg_code WHERE pp.provider_state = $1 GROUP BY d.drg_code ORDER BY 2 LIMIT $2`,
		`SELECT provider_name FROM providers WHERE provider_city ILIKE '%Miami%' LIMIT 3;`,
	}
	for _, q := range queries {
		first := Normalize(q)
		second := Normalize(first.Canonical)
		if second.Canonical != first.Canonical {
			t.Fatalf("normalize is not a fixed point:\n first: %s\nsecond: %s", first.Canonical, second.Canonical)
		}
		if len(second.Constants) != 0 {
			t.Fatalf("re-normalizing extracted constants again: %v", second.Constants)
		}
	}
}

func TestNormalize_StripsTrailingSemicolon(t *testing.T) {
	res := Normalize(`SELECT provider_name FROM providers LIMIT 1;`)
	if strings.HasSuffix(res.Canonical, ";") {
		t.Fatalf("trailing semicolon survived: %s", res.Canonical)
	}
}

func TestNormalize_FallbackOnParseFailure(t *testing.T) {
	res := Normalize(`SELEC provider_name FORM providers WHERE provider_state = 'NY' LIMIT 5`)
	if !res.Degraded {
		t.Fatalf("expected degraded result for unparseable input")
	}
	if len(res.Constants) != 2 || res.Constants[0] != "NY" || res.Constants[1] != "5" {
		t.Fatalf("fallback constants = %v, want [NY 5]", res.Constants)
	}
	if !strings.Contains(res.Canonical, "'$1'") || !strings.Contains(res.Canonical, "$2") {
		t.Fatalf("fallback did not parameterize: %s", res.Canonical)
	}
}

func TestNormalize_FallbackEscapedQuote(t *testing.T) {
	res := Normalize(`SELEC x WHERE name = 'O''Fallon'`)
	if len(res.Constants) != 1 || res.Constants[0] != "O'Fallon" {
		t.Fatalf("constants = %v, want [O'Fallon]", res.Constants)
	}
}

func TestNormalize_FallbackIgnoresIdentifierDigits(t *testing.T) {
	res := Normalize(`SELEC t1.col2 FORM tab3`)
	if len(res.Constants) != 0 {
		t.Fatalf("digits inside identifiers must not become constants: %v", res.Constants)
	}
}

func TestCanonicalText_OperatorSpacing(t *testing.T) {
	got := canonicalText("SELECT  a FROM t WHERE x>=1   AND y =2;")
	want := "select a from t where x >= 1 and y = 2"
	if got != want {
		t.Fatalf("canonicalText = %q, want %q", got, want)
	}
}
