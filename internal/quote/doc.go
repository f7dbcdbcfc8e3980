// Package quote implements the Debounced Request Coordinator component.
//
// The coordinator turns a rapidly-changing input into at most one in-flight
// quote request, and guarantees that a response to an older input never
// overwrites the result for a newer one. Cancellation is logical: superseded
// requests may still resolve, but their results are discarded.
package quote
