// Package filter implements attribute-based filter matching used to route a
// subset of an event's traffic to a given handler. A policy is evaluated
// locally against a message's attributes; ToWirePolicy translates the same
// policy into the SNS-style grammar used by transports with native
// server-side filtering.
package filter

import (
	"reflect"
	"strings"
)

// Policy maps dotted attribute keys to a condition or a list of conditions.
// Semantics: AND across policy keys, OR across a key's condition list. A
// condition is either an exact scalar or a Cond operator object.
type Policy map[string]any

// Cond is an operator condition, e.g. Cond{"$gte": 100}. Supported operators:
// $in, $exists, $prefix, $ne, $gt, $gte, $lt, $lte, $between. Multiple
// operators in one Cond must all hold.
type Cond map[string]any

// Condition constructors.

func In(values ...any) Cond         { return Cond{"$in": values} }
func Exists(present bool) Cond      { return Cond{"$exists": present} }
func Prefix(prefix string) Cond     { return Cond{"$prefix": prefix} }
func Ne(value any) Cond             { return Cond{"$ne": value} }
func Gt(value float64) Cond         { return Cond{"$gt": value} }
func Gte(value float64) Cond        { return Cond{"$gte": value} }
func Lt(value float64) Cond         { return Cond{"$lt": value} }
func Lte(value float64) Cond        { return Cond{"$lte": value} }
func Between(min, max float64) Cond { return Cond{"$between": []any{min, max}} }

// Matches evaluates the policy against the attribute map. A nil or empty
// policy matches everything; a non-empty policy against nil attributes
// matches nothing.
func Matches(attributes map[string]any, policy Policy) bool {
	if len(policy) == 0 {
		return true
	}
	if attributes == nil {
		return false
	}

	for key, condition := range policy {
		value, present := resolve(attributes, key)
		if !matchAny(value, present, condition) {
			return false
		}
	}
	return true
}

// resolve walks a dotted path through nested maps. A path through a missing
// segment or a non-map value resolves to absent.
func resolve(attributes map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = attributes
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// matchAny applies OR semantics across a condition list.
func matchAny(value any, present bool, condition any) bool {
	if list, ok := asConditionList(condition); ok {
		for _, c := range list {
			if matchOne(value, present, c) {
				return true
			}
		}
		return false
	}
	return matchOne(value, present, condition)
}

func asConditionList(condition any) ([]any, bool) {
	switch v := condition.(type) {
	case []any:
		return v, true
	case []Cond:
		list := make([]any, len(v))
		for i, c := range v {
			list[i] = c
		}
		return list, true
	default:
		return nil, false
	}
}

func matchOne(value any, present bool, condition any) bool {
	ops, ok := asOperatorMap(condition)
	if !ok {
		// Bare scalar condition is exact-match; absent never equals.
		return present && equal(value, condition)
	}

	for op, arg := range ops {
		if !applyOperator(value, present, op, arg) {
			return false
		}
	}
	return len(ops) > 0
}

func asOperatorMap(condition any) (map[string]any, bool) {
	var m map[string]any
	switch v := condition.(type) {
	case Cond:
		m = v
	case map[string]any:
		m = v
	default:
		return nil, false
	}
	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return nil, false
		}
	}
	return m, len(m) > 0
}

func applyOperator(value any, present bool, op string, arg any) bool {
	switch op {
	case "$in":
		if !present {
			return false
		}
		members, ok := asConditionList(arg)
		if !ok {
			return false
		}
		for _, member := range members {
			if equal(value, member) {
				return true
			}
		}
		return false
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false
		}
		return present == want
	case "$prefix":
		prefix, ok := arg.(string)
		if !ok {
			return false
		}
		str, ok := value.(string)
		return present && ok && strings.HasPrefix(str, prefix)
	case "$ne":
		// Inequality holds for absent values.
		return !present || !equal(value, arg)
	case "$gt":
		return compareNumeric(value, present, arg, func(v, bound float64) bool { return v > bound })
	case "$gte":
		return compareNumeric(value, present, arg, func(v, bound float64) bool { return v >= bound })
	case "$lt":
		return compareNumeric(value, present, arg, func(v, bound float64) bool { return v < bound })
	case "$lte":
		return compareNumeric(value, present, arg, func(v, bound float64) bool { return v <= bound })
	case "$between":
		low, high, ok := betweenBounds(arg)
		if !ok {
			return false
		}
		v, isNum := toFloat(value)
		return present && isNum && v >= low && v <= high
	default:
		return false
	}
}

func compareNumeric(value any, present bool, arg any, cmp func(v, bound float64) bool) bool {
	if !present {
		return false
	}
	v, ok := toFloat(value)
	if !ok {
		return false
	}
	bound, ok := toFloat(arg)
	if !ok {
		return false
	}
	return cmp(v, bound)
}

func betweenBounds(arg any) (float64, float64, bool) {
	list, ok := asConditionList(arg)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	low, okLow := toFloat(list[0])
	high, okHigh := toFloat(list[1])
	return low, high, okLow && okHigh
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
