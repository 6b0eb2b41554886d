package engine

import "errors"

// Error kinds for pipeline failures. Most are recovered internally by
// cascading to the RAG fallback; only the terminal kind reaches the caller,
// mapped to a user-safe message.
var (
	ErrInputInvalid          = errors.New("input invalid")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrRetrievalMiss         = errors.New("no template above threshold")
	ErrTemplateNotApplicable = errors.New("template not applicable")
	ErrUnsafeSQL             = errors.New("unsafe sql rejected")
	ErrExecutionError        = errors.New("execution failed")
	ErrBusy                  = errors.New("rate limited")
	ErrInternal              = errors.New("internal error")
)

// safeMessage maps a terminal error to the answer string returned to users.
// SQL bodies and raw upstream errors never appear here.
func safeMessage(err error) string {
	switch {
	case errors.Is(err, ErrInputInvalid):
		return "I couldn't understand the question. Try asking about procedure costs, provider ratings, or locations."
	case errors.Is(err, ErrBusy):
		return "The service is busy, please retry in a moment."
	case errors.Is(err, ErrUpstreamUnavailable):
		return "The service is temporarily unavailable, please retry."
	case errors.Is(err, ErrRetrievalMiss), errors.Is(err, ErrTemplateNotApplicable):
		return "No matching data found for that question."
	case errors.Is(err, ErrUnsafeSQL):
		return "That question can't be answered safely."
	case errors.Is(err, ErrExecutionError):
		return "The query could not be completed, please try rephrasing."
	default:
		return "Something went wrong, please try again."
	}
}
