// Package audit implements the asynchronous audit event pipeline: the event
// model, sink implementations, and the buffered dispatcher that decouples
// coordinator latency from sink latency.
package audit
