package schema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ProtoValidator validates unmarshalled protobuf payloads. Implementations
// typically forward to protovalidate or a custom struct validator.
type ProtoValidator interface {
	Validate(value any) error
}

// Proto builds an adapter for protobuf messages encoded as protojson.
// The optional validator runs after unmarshalling.
func Proto[T proto.Message](validator ProtoValidator) Adapter {
	return protoAdapter[T]{validator: validator}
}

type protoAdapter[T proto.Message] struct {
	validator ProtoValidator
}

func (a protoAdapter[T]) Validate(value any) (any, []Issue) {
	var typed T

	switch v := value.(type) {
	case T:
		typed = v
	case []byte:
		typed = newProtoMessage[T]()
		if err := protojson.Unmarshal(v, typed); err != nil {
			return nil, []Issue{{Message: fmt.Sprintf("invalid protojson payload: %v", err)}}
		}
	default:
		return nil, []Issue{{Message: fmt.Sprintf("payload is %T, expected %T or protojson bytes", value, typed)}}
	}

	if a.validator != nil {
		if err := a.validator.Validate(typed); err != nil {
			return nil, []Issue{{Message: err.Error()}}
		}
	}
	return typed, nil
}

func (a protoAdapter[T]) Describe() map[string]any {
	msg := newProtoMessage[T]()
	return map[string]any{
		"type": "protobuf",
		"name": string(msg.ProtoReflect().Descriptor().FullName()),
	}
}

func newProtoMessage[T proto.Message]() T {
	var zero T
	return zero.ProtoReflect().New().Interface().(T)
}
