// Package flowbus is a transport-agnostic publish/subscribe engine on top of
// Watermill. Events are declared up front in an EventRegistry together with a
// payload schema; the Publisher validates and encodes payloads, the Subscriber
// validates inbound deliveries and fans them out to registered handlers, and
// both sides run configurable middleware pipelines. The backing transport
// (Kafka, RabbitMQ, AWS SNS/SQS, NATS, HTTP, or Go channels) is read from
// Config and connected lazily with automatic reconnection.
//
// A minimal setup fills Config, registers events on an EventRegistry, creates
// a PubSub, attaches handlers with On, and calls Start; see README.md for a
// copy/paste quick start snippet.
//
// # Transports
//
// Flowbus supports 6 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: High-performance messaging
//   - http: Request/response messaging
//
// Each transport reports its Capabilities; operations a backend cannot
// perform (for example targeting specific connection IDs) fail with a typed
// CapabilityError instead of silently degrading.
//
// # Middleware
//
// The default chain adds structured logging and timing. Built-in optional
// middlewares cover idempotent delivery, rate limiting, retry with
// exponential backoff, circuit breaking, Prometheus metrics, and
// OpenTelemetry tracing. Custom middleware plugs into the same pipelines via
// Dependencies or Publisher.Use/Subscriber.Use.
//
// # Filters
//
// Handlers can subscribe to a subset of an event's traffic with an attribute
// filter policy: exact values, $in, $exists, $prefix, $ne, numeric ranges,
// and nested dotted paths. Policies evaluate locally on every delivery and
// translate to the SNS filter-policy grammar via ToWirePolicy.
package flowbus
