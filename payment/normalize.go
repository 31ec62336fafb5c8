package payment

import "strings"

// rawToNormalized maps every oracle status we have observed. Comparison is
// case-insensitive and trimmed. Anything unknown stays pending: the worker
// will poll again rather than ever inventing a confirmation.
var rawToNormalized = map[string]string{
	"mined":     StatusConfirmed,
	"confirmed": StatusConfirmed,
	"success":   StatusConfirmed,

	"failed":   StatusFailed,
	"error":    StatusFailed,
	"rejected": StatusFailed,

	"expired":   StatusCancelled,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"declined":  StatusCancelled,

	"initiated":            StatusPending,
	"authorized":           StatusPending,
	"broadcast":            StatusPending,
	"pending":              StatusPending,
	"pending_confirmation": StatusPending,
	"submitted":            StatusPending,
}

// NormalizeStatus converts an oracle-reported status to the canonical set.
func NormalizeStatus(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StatusPending
	}
	if normalized, ok := rawToNormalized[key]; ok {
		return normalized
	}
	return StatusPending
}
