package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/drblury/flowbus"

// TracingPublishMiddleware opens an OpenTelemetry producer span around each
// publish. Pass nil to use the global tracer provider.
func TracingPublishMiddleware(provider trace.TracerProvider) PublishMiddleware {
	tracer := tracerFrom(provider)
	return func(ctx context.Context, eventName string, payload any, options *PublishOptions, next func() error) error {
		_, span := tracer.Start(ctx, "flowbus.publish",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.system", "flowbus"),
				attribute.String("messaging.destination.name", eventName),
			),
		)
		defer span.End()

		err := next()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// TracingSubscribeMiddleware opens an OpenTelemetry consumer span around each
// handler invocation.
func TracingSubscribeMiddleware(provider trace.TracerProvider) SubscribeMiddleware {
	tracer := tracerFrom(provider)
	return func(ctx context.Context, eventName string, payload any, mctx *MessageContext, next func() error) error {
		_, span := tracer.Start(ctx, "flowbus.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "flowbus"),
				attribute.String("messaging.destination.name", eventName),
				attribute.String("messaging.message.id", mctx.MessageID),
			),
		)
		defer span.End()

		err := next()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func tracerFrom(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(tracerName)
}
