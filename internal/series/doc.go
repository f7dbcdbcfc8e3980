// Package series implements the Series Reconciler component.
//
// The reconciler merges one on-demand historical fetch with the live push
// stream into a single time-ordered, deduplicated series per
// (instrument, window) selection, and tracks the most recent push point for
// low-latency ticking displays.
package series
