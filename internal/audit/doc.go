// Package audit delivers session lifecycle events to a caller-supplied sink.
//
// Events are emitted synchronously on the request path. Sinks must be cheap
// or buffer internally; [ChannelSink] drops rather than blocks when full and
// counts what it dropped.
//
// This package does not decide which events to emit; the Engine does.
package audit
