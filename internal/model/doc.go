// Package model defines shared data types used across the price sync engine.
//
// Conventions:
//   - Prices: float64 in quote-currency units
//   - Timestamps: int64 milliseconds since Unix epoch
//   - IDs: string for instruments
package model
