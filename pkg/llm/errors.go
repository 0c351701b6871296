package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// IsTransient reports whether a provider error is worth retrying: rate
// limits, overload, 5xx, and network failures. Auth and validation errors
// are permanent. Context cancellation is never transient — the caller chose
// to stop.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var anthErr *anthropicsdk.Error
	if errors.As(err, &anthErr) {
		return retryableStatus(anthErr.StatusCode)
	}
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "overloaded", "connection reset", "timeout", "temporarily unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code == 408 || code >= 500
}
