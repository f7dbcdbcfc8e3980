// Package feed implements the Connection Manager component.
//
// The Connection Manager:
//   - Multiplexes per-instrument subscriptions over one WebSocket connection
//   - Keeps a reference-counted desired-subscription set that survives drops
//   - Reconnects with exponential backoff and replays subscriptions
//   - Fans inbound envelopes out to registered handlers
package feed
