package engine

import (
	"strings"
	"testing"

	"github.com/carenav-org/querykit/safety"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func TestValidatorFeedback(t *testing.T) {
	if got := validatorFeedback(safety.Report{}); got != "the query failed the safety policy" {
		t.Fatalf("empty report feedback = %q", got)
	}

	report := safety.Report{Issues: []safety.Issue{
		{Message: "one"}, {Message: "two"}, {Message: "three"}, {Message: "four"},
	}}
	got := validatorFeedback(report)
	if !strings.Contains(got, "one") || !strings.Contains(got, "three") {
		t.Fatalf("feedback dropped issues: %q", got)
	}
	if strings.Contains(got, "four") {
		t.Fatalf("feedback must cap at three issues: %q", got)
	}
}
