// Package peripheral implements the node's hardware-facing abstractions
// (spec §4.I): a debounced GPIO input layer, a multi-channel SPI master, a
// quadrature decoder, and a minimal USB device control/endpoint stub. Each
// sits behind a small interface so host-side fakes can stand in for real
// hardware, the same convention internal/radio's PHY and internal/busmaster's
// UART use.
package peripheral

import "time"

// DebounceWindow is the deadline an edge arms before the level is sampled,
// per spec §4.I "Input": "on any edge, mark a ~50 ms deadline".
const DebounceWindow = 50 * time.Millisecond

// MaxInputLines bounds Input to the hardware's line count (spec §4.I:
// "up to 8 edge-triggered GPIO lines").
const MaxInputLines = 8
