// Package log provides structured logging for the branching engine using
// zerolog. A process-wide Logger is configured once via Init and scoped
// per component/project/branch/snapshot via the With* helpers; every
// entry carries a timestamp and is emitted as JSON in production or a
// console-friendly format for interactive use.
package log
