package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sashabaranov/go-openai"
)

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(&openai.APIError{HTTPStatusCode: 429}) {
		t.Fatalf("429 APIError not classified as rate limit")
	}
	if IsRateLimit(&openai.APIError{HTTPStatusCode: 500}) {
		t.Fatalf("500 classified as rate limit")
	}
	if IsRateLimit(errors.New("plain")) {
		t.Fatalf("plain error classified as rate limit")
	}
	wrapped := fmt.Errorf("call failed: %w", &openai.APIError{HTTPStatusCode: 429})
	if !IsRateLimit(wrapped) {
		t.Fatalf("wrapped 429 not unwrapped")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(context.Canceled) || IsRetryable(context.DeadlineExceeded) {
		t.Fatalf("cancellation must not be retryable")
	}
	if !IsRetryable(&openai.APIError{HTTPStatusCode: 503}) {
		t.Fatalf("503 not retryable")
	}
	if !IsRetryable(&openai.APIError{HTTPStatusCode: 429}) {
		t.Fatalf("429 not retryable")
	}
	if IsRetryable(&openai.APIError{HTTPStatusCode: 400}) {
		t.Fatalf("400 retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("network-level error not retryable")
	}
}

func TestIsRetryableDB(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"08006", true},  // connection failure
		{"53300", true},  // too many connections
		{"57P01", true},  // admin shutdown
		{"40001", true},  // serialization failure
		{"40P01", true},  // deadlock
		{"42601", false}, // syntax error
		{"42P01", false}, // undefined table
		{"22012", false}, // division by zero
	}
	for _, c := range cases {
		err := &pgconn.PgError{Code: c.code}
		if got := IsRetryableDB(err); got != c.want {
			t.Fatalf("IsRetryableDB(%s) = %v, want %v", c.code, got, c.want)
		}
	}
	if IsRetryableDB(context.Canceled) {
		t.Fatalf("cancellation must not be retryable")
	}
	if !IsRetryableDB(errors.New("broken pipe")) {
		t.Fatalf("network-level error not retryable")
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	if got := Backoff(base, 1, time.Minute); got != base {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := Backoff(base, 3, time.Minute); got != 400*time.Millisecond {
		t.Fatalf("attempt 3 = %v, want 400ms", got)
	}
	if got := Backoff(base, 20, time.Second); got != time.Second {
		t.Fatalf("cap = %v, want 1s", got)
	}
}

func TestJitter_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		j := Jitter(rng, d)
		if j < d || j > d+d/4 {
			t.Fatalf("jitter %v outside [d, 1.25d]", j)
		}
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		return &openai.APIError{HTTPStatusCode: 400}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return &openai.APIError{HTTPStatusCode: 500}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		return &openai.APIError{HTTPStatusCode: 500}
	})
	if err == nil || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
