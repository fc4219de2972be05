package retry

import "strings"

// Classify applies spec §4.8's message-pattern retryability rules:
// retry on {429, rate limit, 5xx, timeout, connection, network, server
// error}; never retry on {400, 401, 403, 404, 422, invalid request,
// context length}; anything else defaults to retryable.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return true
}

var retryablePatterns = []string{
	"429",
	"rate limit",
	"rate_limit",
	"500", "501", "502", "503", "504",
	"timeout",
	"deadline exceeded",
	"connection",
	"network",
	"server error",
}

var nonRetryablePatterns = []string{
	"400",
	"401",
	"403",
	"404",
	"422",
	"invalid request",
	"context length",
}
