package safety

import (
	"math"
	"strings"
	"testing"
)

func newValidator() *Validator { return New(Config{}) }

func hasIssue(r Report, category string, severity Severity) bool {
	for _, issue := range r.Issues {
		if issue.Category == category && issue.Severity == severity {
			return true
		}
	}
	return false
}

func TestValidate_CleanQuery(t *testing.T) {
	r := newValidator().Validate(`SELECT provider_name FROM providers WHERE provider_state = 'NY' LIMIT 10`)
	if !r.Safe {
		t.Fatalf("clean query rejected: %+v", r.Issues)
	}
	if math.Abs(r.Score-1.0) > 1e-9 {
		t.Fatalf("score = %v, want 1.0", r.Score)
	}
	if len(r.ReferencedTables) != 1 || r.ReferencedTables[0] != "providers" {
		t.Fatalf("tables = %v", r.ReferencedTables)
	}
}

func TestValidate_MultiStatementDrop(t *testing.T) {
	r := newValidator().Validate(`SELECT provider_name FROM providers; DROP TABLE providers;`)
	if r.Safe {
		t.Fatalf("multi-statement drop accepted")
	}
	if !hasIssue(r, "syntax", SeverityUnsafe) && !hasIssue(r, "forbidden_keyword", SeverityUnsafe) {
		t.Fatalf("expected unsafe issue, got %+v", r.Issues)
	}
}

func TestValidate_ForbiddenKeywords(t *testing.T) {
	for _, sql := range []string{
		`DELETE FROM providers`,
		`INSERT INTO providers VALUES ('x')`,
		`UPDATE providers SET provider_name = 'x'`,
		`TRUNCATE providers`,
	} {
		if r := newValidator().Validate(sql); r.Safe {
			t.Fatalf("accepted %q", sql)
		}
	}
}

func TestValidate_KeywordInsideWordNotFlagged(t *testing.T) {
	// "replacement" contains "replace"; whole-word matching must not fire.
	r := newValidator().Validate(`SELECT provider_name FROM providers p JOIN provider_procedures pp ON p.provider_id = pp.provider_id JOIN drg_procedures d ON pp.drg_code = d.drg_code WHERE d.drg_description ILIKE '%knee replacement%' LIMIT 5`)
	if !r.Safe {
		t.Fatalf("whole-word keyword rule misfired: %+v", r.Issues)
	}
}

func TestValidate_TableWhitelist(t *testing.T) {
	r := newValidator().Validate(`SELECT secret FROM payroll LIMIT 1`)
	if r.Safe {
		t.Fatalf("non-whitelisted table accepted")
	}
	if !hasIssue(r, "table_access", SeverityUnsafe) {
		t.Fatalf("expected table_access issue, got %+v", r.Issues)
	}
}

func TestValidate_InjectionPatterns(t *testing.T) {
	for _, sql := range []string{
		`SELECT provider_name FROM providers WHERE provider_state = '' OR ''='' LIMIT 1`,
		`SELECT provider_name FROM providers -- hidden`,
		`SELECT provider_name FROM providers /* hidden */ LIMIT 1`,
		`SELECT provider_name FROM providers UNION SELECT provider_name FROM providers`,
	} {
		r := newValidator().Validate(sql)
		if r.Safe {
			t.Fatalf("injection pattern accepted: %q", sql)
		}
		if !hasIssue(r, "injection", SeverityUnsafe) {
			t.Fatalf("expected injection issue for %q, got %+v", sql, r.Issues)
		}
	}
}

func TestValidate_SoftWarnings(t *testing.T) {
	r := newValidator().Validate(`SELECT * FROM providers`)
	if !r.Safe {
		t.Fatalf("warnings alone must not reject: %+v", r.Issues)
	}
	if !hasIssue(r, "data_exposure", SeverityWarning) {
		t.Fatalf("expected SELECT * warning")
	}
	if !hasIssue(r, "complexity", SeverityWarning) {
		t.Fatalf("expected missing LIMIT warning")
	}
	// Two warnings: 1.0 - 0.1 - 0.1.
	if math.Abs(r.Score-0.8) > 1e-9 {
		t.Fatalf("score = %v, want 0.8", r.Score)
	}
}

func TestValidate_LimitTooHigh(t *testing.T) {
	r := newValidator().Validate(`SELECT provider_name FROM providers LIMIT 5000`)
	if !r.Safe {
		t.Fatalf("high limit must warn, not reject: %+v", r.Issues)
	}
	found := false
	for _, issue := range r.Issues {
		if strings.Contains(issue.Message, "LIMIT too high") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LIMIT too high warning, got %+v", r.Issues)
	}
}

func TestValidate_FunctionWhitelist(t *testing.T) {
	r := newValidator().Validate(`SELECT AVG(overall_rating) FROM provider_ratings LIMIT 1`)
	if !r.Safe || hasIssue(r, "function", SeverityWarning) {
		t.Fatalf("whitelisted function flagged: %+v", r.Issues)
	}

	r = newValidator().Validate(`SELECT random() FROM providers LIMIT 1`)
	if !hasIssue(r, "function", SeverityWarning) {
		t.Fatalf("expected non-whitelisted function warning, got %+v", r.Issues)
	}
}

func TestValidate_EmptyStatement(t *testing.T) {
	r := newValidator().Validate("   ")
	if r.Safe || r.Score != 0 {
		t.Fatalf("empty statement accepted: %+v", r)
	}
}

func TestValidate_Unparseable(t *testing.T) {
	r := newValidator().Validate(`SELEC provider_name FORM providers`)
	if r.Safe {
		t.Fatalf("unparseable statement accepted")
	}
}

func TestScore_Floors(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityUnsafe}, {Severity: SeverityUnsafe}, {Severity: SeverityUnsafe},
	}
	if got := score(issues, 0); got != 0 {
		t.Fatalf("score = %v, want clamp at 0", got)
	}
	if got := score(nil, 25); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("complexity > 20 score = %v, want 0.8", got)
	}
	if got := score(nil, 15); math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("complexity > 10 score = %v, want 0.9", got)
	}
}
