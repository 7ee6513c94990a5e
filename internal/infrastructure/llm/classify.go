package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// ClassifyHTTPError maps an upstream HTTP status and body to the error
// taxonomy. Providers call this from their adapters so that retry and
// fallback decisions are uniform across upstreams.
func ClassifyHTTPError(provider string, status int, body string, retryAfter string) *apperrors.AppError {
	snippet := body
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	msg := fmt.Sprintf("%s returned %d: %s", provider, status, snippet)

	switch {
	case status == 401 || status == 403:
		return apperrors.New(apperrors.CodeAuth, msg)
	case status == 429:
		seconds := 0
		if retryAfter != "" {
			if n, err := strconv.Atoi(retryAfter); err == nil {
				seconds = n
			}
		}
		return &apperrors.AppError{Code: apperrors.CodeRateLimited, Message: msg, RetryAfter: seconds}
	case status == 400 || status == 404 || status == 422:
		return apperrors.New(apperrors.CodeInvalidReq, msg)
	case status >= 500:
		return apperrors.New(apperrors.CodeUpstream, msg)
	default:
		return apperrors.New(apperrors.CodeUpstream, msg)
	}
}

// ClassifyTransportError maps network-level failures. Deadline and timeout
// errors become TimeoutError; everything else is an upstream failure.
func ClassifyTransportError(provider string, err error) *apperrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "deadline exceeded"):
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	case strings.Contains(text, "overloaded") || strings.Contains(text, "rate limit"):
		return apperrors.Wrap(apperrors.CodeRateLimited, provider+" rate limited", err)
	default:
		return apperrors.Wrap(apperrors.CodeUpstream, provider+" request failed", err)
	}
}
