package engine

import (
	"fmt"
	"strings"
	"testing"
)

func TestSafeMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrInputInvalid, "I couldn't understand the question"},
		{ErrBusy, "busy"},
		{ErrUpstreamUnavailable, "temporarily unavailable"},
		{ErrRetrievalMiss, "No matching data"},
		{ErrTemplateNotApplicable, "No matching data"},
		{ErrUnsafeSQL, "can't be answered safely"},
		{ErrExecutionError, "could not be completed"},
		{ErrInternal, "Something went wrong"},
		{fmt.Errorf("oops"), "Something went wrong"},
	}
	for _, c := range cases {
		got := safeMessage(c.err)
		if !strings.Contains(got, c.want) {
			t.Fatalf("safeMessage(%v) = %q, want substring %q", c.err, got, c.want)
		}
	}
}

func TestSafeMessage_WrappedErrors(t *testing.T) {
	err := fmt.Errorf("%w: score 0.20", ErrUnsafeSQL)
	if got := safeMessage(err); !strings.Contains(got, "safely") {
		t.Fatalf("wrapped error not unwrapped: %q", got)
	}
}

func TestSafeMessage_NeverLeaksSQL(t *testing.T) {
	err := fmt.Errorf("%w: SELECT * FROM providers", ErrExecutionError)
	got := safeMessage(err)
	if strings.Contains(strings.ToLower(got), "select") {
		t.Fatalf("SQL leaked into user message: %q", got)
	}
}
