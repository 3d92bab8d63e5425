// Package schema defines the capability contract any validation library can
// satisfy: given a raw value, return either a validated value or a list of
// typed issues. The engine treats every conforming adapter identically.
package schema

import (
	"fmt"
	"reflect"

	errspkg "github.com/drblury/flowbus/internal/runtime/errors"
	"github.com/drblury/flowbus/internal/runtime/jsoncodec"
)

// Issue is re-exported so adapters do not need to import the errors package.
type Issue = errspkg.Issue

// Adapter validates a raw value. A nil issue slice means success and the
// returned value is the canonical, validated form of the input. Adapters must
// accept both decoded values and raw JSON bytes, since inbound payloads arrive
// as bytes while outbound payloads are typed.
type Adapter interface {
	Validate(value any) (any, []Issue)
}

// Describer is optionally implemented by adapters that can describe their
// shape for catalog and protocol-document generation.
type Describer interface {
	Describe() map[string]any
}

// Func adapts a plain function to the Adapter interface.
type Func func(value any) (any, []Issue)

func (f Func) Validate(value any) (any, []Issue) {
	return f(value)
}

// Any accepts every value unchanged. Useful for events without a payload
// contract.
func Any() Adapter {
	return anyAdapter{}
}

type anyAdapter struct{}

func (anyAdapter) Validate(value any) (any, []Issue) {
	if raw, ok := value.([]byte); ok {
		var decoded any
		if err := jsoncodec.Unmarshal(raw, &decoded); err != nil {
			// Not JSON; hand the raw bytes through untouched.
			return raw, nil
		}
		return decoded, nil
	}
	return value, nil
}

func (anyAdapter) Describe() map[string]any {
	return map[string]any{"type": "any"}
}

// CheckFunc reports issues found in a decoded value of type T.
type CheckFunc[T any] func(value T) []Issue

// JSON builds an adapter that decodes JSON payloads into T and runs the
// optional checks. Typed values of T (or *T) pass straight to the checks;
// anything else is round-tripped through the JSON codec so loosely typed
// inputs (maps from other adapters, decoded wire payloads) still conform.
func JSON[T any](checks ...CheckFunc[T]) Adapter {
	return jsonAdapter[T]{checks: checks}
}

type jsonAdapter[T any] struct {
	checks []CheckFunc[T]
}

func (a jsonAdapter[T]) Validate(value any) (any, []Issue) {
	typed, issues := coerce[T](value)
	if issues != nil {
		return nil, issues
	}

	var all []Issue
	for _, check := range a.checks {
		all = append(all, check(typed)...)
	}
	if len(all) > 0 {
		return nil, all
	}
	return typed, nil
}

func (a jsonAdapter[T]) Describe() map[string]any {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return map[string]any{"type": "any"}
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return map[string]any{
		"type": typ.Kind().String(),
		"name": typ.String(),
	}
}

func coerce[T any](value any) (T, []Issue) {
	var zero T

	switch v := value.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, []Issue{{Message: "payload is nil"}}
		}
		return *v, nil
	case []byte:
		var typed T
		if err := jsoncodec.Unmarshal(v, &typed); err != nil {
			return zero, []Issue{{Message: fmt.Sprintf("invalid JSON payload: %v", err)}}
		}
		return typed, nil
	case nil:
		return zero, []Issue{{Message: "payload is nil"}}
	default:
		raw, err := jsoncodec.Marshal(value)
		if err != nil {
			return zero, []Issue{{Message: fmt.Sprintf("payload is not JSON-encodable: %v", err)}}
		}
		var typed T
		if err := jsoncodec.Unmarshal(raw, &typed); err != nil {
			return zero, []Issue{{Message: fmt.Sprintf("payload does not match schema: %v", err)}}
		}
		return typed, nil
	}
}
