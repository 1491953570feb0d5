// Package audit implements async delivery of security audit entries.
//
// # Components
//
//   - [Sink]: entry consumer (channel, JSON writer, logrus, no-op).
//   - [Dispatcher]: bounded async relay with drop-if-full or block-if-full
//     semantics. Sink errors and panics are logged, never propagated.
//   - [Entry]: structured audit record.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which
// actions to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress entries based on business logic.
//   - Import authcore or any sibling internal package other than ids.
package audit
