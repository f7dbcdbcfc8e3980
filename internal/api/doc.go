// Package api implements the REST collaborator contracts the sync engine
// consumes: the historical-series fetch and the quote call. Both are exposed
// as methods so callers can pass them around as plain funcs.
package api
