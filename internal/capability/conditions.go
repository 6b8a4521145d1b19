package capability

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// evaluateCondition reports whether a condition holds against the supplied
// request context. Evaluation is pure and total: it never errors, it only
// matches or does not.
//
// Semantics, preserved exactly for compatibility with deployed grants:
//   - an absent context key is a non-match, not vacuously true
//   - greater_than/less_than apply only when both operands are numeric;
//     on a type mismatch the condition is ignored (treated as matching)
//   - contains applies to string containment only
//   - in checks membership of the context value in the condition's array
//   - before/after compare timestamps (unix seconds or RFC 3339 strings)
func evaluateCondition(c storage.Condition, reqCtx map[string]any) bool {
	got, ok := reqCtx[c.Parameter]
	if !ok {
		return false
	}

	switch c.Operator {
	case storage.OpEquals:
		return jsonEqual(got, c.Value)
	case storage.OpNotEquals:
		return !jsonEqual(got, c.Value)
	case storage.OpGreaterThan:
		a, aok := asNumber(got)
		b, bok := asNumber(c.Value)
		if !aok || !bok {
			return true // non-numeric comparison is a no-op
		}
		return a > b
	case storage.OpLessThan:
		a, aok := asNumber(got)
		b, bok := asNumber(c.Value)
		if !aok || !bok {
			return true
		}
		return a < b
	case storage.OpContains:
		gs, gok := got.(string)
		ws, wok := c.Value.(string)
		if !gok || !wok {
			return false
		}
		return strings.Contains(gs, ws)
	case storage.OpIn:
		members, ok := asSlice(c.Value)
		if !ok {
			return false
		}
		for _, m := range members {
			if jsonEqual(got, m) {
				return true
			}
		}
		return false
	case storage.OpBefore:
		a, aok := asTime(got)
		b, bok := asTime(c.Value)
		if !aok || !bok {
			return false
		}
		return a.Before(b)
	case storage.OpAfter:
		a, aok := asTime(got)
		b, bok := asTime(c.Value)
		if !aok || !bok {
			return false
		}
		return a.After(b)
	default:
		return false
	}
}

// conditionFailure renders a caller-facing message for a failed condition.
func conditionFailure(c storage.Condition) string {
	return fmt.Sprintf("condition failed: %s %s %v", c.Parameter, c.Operator, c.Value)
}

// jsonEqual compares two values after normalizing through JSON, so that an
// int from a caller and a float64 from a decoded condition compare equal.
func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}

// asSlice normalizes a condition value to []any. Values decoded from
// storage already are; values set through the Go API keep their original
// slice type ([]string and the like) until they round-trip, so those are
// normalized through JSON.
func asSlice(v any) ([]any, bool) {
	if members, ok := v.([]any); ok {
		return members, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var members []any
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, false
	}
	return members, true
}

// asNumber coerces the numeric types that survive JSON decoding and common
// Go callers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asTime coerces unix seconds or an RFC 3339 string to a time.
func asTime(v any) (time.Time, bool) {
	if n, ok := asNumber(v); ok {
		return time.Unix(int64(n), 0), true
	}
	if s, ok := v.(string); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
