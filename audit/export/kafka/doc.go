// Package kafka publishes audit events to a Kafka topic.
//
// Events are serialized as JSON and partitioned by session id so one
// session's trail lands on one partition in order. Delivery is best-effort:
// a failed publish is logged and dropped, never propagated back into the
// emitting flow.
package kafka
