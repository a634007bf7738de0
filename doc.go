// Package servicebus is a message-processing and saga-orchestration engine.
// It consumes transport packages, decodes them into typed domain messages,
// routes each message to its registered handlers, and runs those handlers
// under a per-message kernel context that can send commands and publish
// events back through type-routed endpoints.
//
// Long-lived business transactions are modelled as sagas: durable state keyed
// by saga id with expiration, per-id serialization, retry on transient
// storage failures, and at-least-once delivery of the commands and events a
// saga fires. The store is the system of record; messages are only emitted
// after the saga row is durable.
//
// # Pipeline
//
// A transport package flows decode -> route -> execute -> acknowledge. A
// malformed payload is logged and acked so it cannot poison the queue.
// Executors for one package run sequentially in router order; a failing
// handler is reported through the context logger and does not abort its
// siblings. Distinct packages are processed concurrently up to the
// configured bound. Exactly one terminal acknowledgement reaches the
// transport per package.
//
// # Transports
//
// Transports register named builders with the transport registry:
//   - channel: in-memory Go channels for testing and local development
//   - amqp: RabbitMQ-compatible durable pub/sub
//
// # Setup
//
// A minimal entry point registers its message types, builds a handler
// catalog, creates a Service from Config, wires outgoing destinations, and
// calls Run. Saga classes are registered in a SagaMetadataCollection and
// driven through a SagaProvider from inside handlers; libapi_test.go wires a
// complete order workflow through this facade.
package servicebus
