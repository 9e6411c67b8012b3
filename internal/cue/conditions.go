package cue

import (
	"fmt"
	"log"

	"alnorchestrator/internal/models"
)

// conditionsMatch reports whether every condition matches ctx (implicit
// AND, spec.md §4.9 "Condition evaluation").
func conditionsMatch(conditions []models.CueCondition, ctx map[string]any) bool {
	for _, c := range conditions {
		if !evaluateCondition(c, ctx[c.Field]) {
			return false
		}
	}
	return true
}

func evaluateCondition(c models.CueCondition, actual any) bool {
	switch c.Op {
	case models.OpEq:
		return compareEqual(actual, c.Value)
	case models.OpNeq:
		return !compareEqual(actual, c.Value)
	case models.OpGt:
		r, ok := compareNumeric(actual, c.Value)
		return ok && r > 0
	case models.OpGte:
		r, ok := compareNumeric(actual, c.Value)
		return ok && r >= 0
	case models.OpLt:
		r, ok := compareNumeric(actual, c.Value)
		return ok && r < 0
	case models.OpLte:
		r, ok := compareNumeric(actual, c.Value)
		return ok && r <= 0
	case models.OpIn:
		return valueIn(actual, c.Value)
	default:
		log.Printf("cue engine: unknown condition op %q, treating as false", c.Op)
		return false
	}
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareNumeric(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func valueIn(actual, set any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

// normalizeEventPayload flattens a known domain event's payload into the
// {field: value} shape conditions evaluate against (spec.md §4.9 Event
// path, step 2). A payload that is already a map is used as-is for any
// event; any other payload of an unknown event is wrapped under a single
// "payload" field.
func normalizeEventPayload(eventName string, payload any) map[string]any {
	switch p := payload.(type) {
	case map[string]any:
		return p
	}

	switch eventName {
	case "transaction:accepted":
		return normalizeTransactionAccepted(payload)
	default:
		return genericNormalize(payload)
	}
}

// normalizeTransactionAccepted flattens to tokenId, teamId, deviceType,
// points, groupId, teamScore, hasGroupBonus (spec.md §4.9 Event path,
// step 2 example), via the CueFields() seam transaction.AcceptedPayload
// implements — avoids internal/cue importing package transaction just to
// flatten its payload.
func normalizeTransactionAccepted(payload any) map[string]any {
	type transactionLike interface {
		CueFields() map[string]any
	}
	if tl, ok := payload.(transactionLike); ok {
		return tl.CueFields()
	}
	return genericNormalize(payload)
}

// genericNormalize is the "unknown events pass through unchanged" path
// (spec.md §4.9 Event path, step 2): wrap the raw payload under a single
// field so conditions that don't care about structure can still match on
// it wholesale.
func genericNormalize(payload any) map[string]any {
	return map[string]any{"payload": payload}
}
