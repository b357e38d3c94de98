// Package internal holds helpers shared by authcore packages that are not part
// of the public API: opaque random tokens and constant-time comparison.
//
// # Sub-packages
//
//   - audit: synchronous event sinks for session lifecycle events
//   - flows: the verification and rotation decision sequences behind Engine
package internal
