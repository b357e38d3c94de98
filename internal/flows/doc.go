// Package flows holds the decision sequences behind the Engine's verification,
// rotation and login operations.
//
// Each Run function takes a dependency struct and returns a Result carrying a
// failure classification plus the underlying error. The root package maps the
// classification onto its public error kinds; nothing here decides what a
// caller is told.
//
// Flows hold no state between calls and perform I/O only through their deps.
package flows
