// Package rate implements fixed-window counters over a kv.Store.
//
// # Window semantics
//
// Windows are aligned to multiples of the window length on the limiter's
// clock. Each (purpose, identity, window) triple has its own counter key:
//
//	{prefix}:{purpose}:{identity}:{windowIndex}
//
// The counter TTL is set on first increment only, so a window never slides.
//
// # What this package must NOT do
//
//   - Decide fail-open policy. Check reports the store error alongside an
//     allowing Decision and the caller logs and counts it.
//   - Be imported outside the authcore module.
package rate
