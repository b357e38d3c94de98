// Package csrf implements the double-submit cookie defense for cookie-bearing
// browser clients.
//
// The server issues a random token in a readable (non-HttpOnly) cookie. The
// client echoes it in a header, or a form field for plain HTML forms, on every
// mutating request. A cross-site attacker can make the browser send the
// cookie but cannot read it, so it cannot produce the matching header.
//
// [Guard.Protect] is meant to run before rate limiting and authentication.
package csrf
