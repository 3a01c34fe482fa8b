// Package events publishes committed record changes. Events are encoded as
// deterministic CBOR and carry the fixed-layout record bytes, so consumers
// decode them with the record package. Memory, Redis list and RabbitMQ
// topic exchange transports are provided.
package events
