package queue

import (
	"strings"

	"github.com/codemonkeychris/valuerank/pkg/producer"
)

// Non-retryable markers are checked first: a "400 bad request" must not
// be rescued by the "request" fragment of some retryable marker.
var nonRetryableMarkers = []string{
	"validation",
	"bad request",
	"unauthorized",
	"forbidden",
	"not found",
	"400",
	"401",
	"403",
	"404",
}

var retryableMarkers = []string{
	"econnreset",
	"econnrefused",
	"etimedout",
	"timed out",
	"timeout",
	"fetch failed",
	"connection reset",
	"connection refused",
	"socket hang up",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// IsRetryable classifies a producer error message. Unknown messages are
// treated as retryable so transient failures in new shapes are not
// dropped on the first attempt.
func IsRetryable(message string) bool {
	msg := strings.ToLower(message)
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return true
}

// RetryableProducerError classifies a structured producer error,
// preferring its explicit retryable flag over message matching.
func RetryableProducerError(e *producer.Error) bool {
	if e == nil {
		return true
	}
	if e.Retryable != nil {
		return *e.Retryable
	}
	return IsRetryable(e.Code + " " + e.Message)
}
