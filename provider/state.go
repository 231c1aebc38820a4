package provider

import "strings"

var stateVocabulary = map[string]State{
	"ready":       StateCompleted,
	"success":     StateCompleted,
	"succeed":     StateCompleted,
	"succeeded":   StateCompleted,
	"completed":   StateCompleted,
	"complete":    StateCompleted,
	"finished":    StateCompleted,
	"done":        StateCompleted,
	"failed":      StateFailed,
	"fail":        StateFailed,
	"failure":     StateFailed,
	"error":       StateFailed,
	"cancelled":   StateFailed,
	"canceled":    StateFailed,
	"expired":     StateFailed,
	"aborted":     StateFailed,
	"pending":     StatePending,
	"queued":      StatePending,
	"queueing":    StatePending,
	"submitted":   StatePending,
	"created":     StatePending,
	"waiting":     StatePending,
	"throttled":   StatePending,
	"preparing":   StatePending,
	"starting":    StatePending,
	"processing":  StateProcessing,
	"running":     StateProcessing,
	"in_progress": StateProcessing,
	"dreaming":    StateProcessing,
	"generating":  StateProcessing,
}

var moderationVocabulary = map[string]bool{
	"moderated":         true,
	"content_moderated": true,
	"blocked":           true,
	"rejected":          true,
	"sensitive":         true,
	"content_filtered":  true,
}

// ParseState maps a provider status string onto the normalized states,
// case-insensitively. Moderation outcomes are failures with KindModeration.
// Unrecognized strings are reported as processing with known=false so the
// poll loop keeps going while the caller can log the surprise.
func ParseState(raw string) (state State, kind Kind, known bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if moderationVocabulary[key] {
		return StateFailed, KindModeration, true
	}
	if s, ok := stateVocabulary[key]; ok {
		if s == StateFailed {
			return s, KindFailed, true
		}
		return s, "", true
	}
	return StateProcessing, "", false
}
