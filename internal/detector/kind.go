// Package detector implements the order-flow microstructure detector family
// (absorption, exhaustion, accumulation, distribution) plus the optional
// TraditionalIndicators filter, per spec §4.5–§4.8.
//
// The teacher's original domain had a deep inheritance hierarchy among
// detector variants and "enhanced" wrappers overriding behavior. Per spec
// §9 ("Dynamic dispatch over detector zoo") this is re-architected as a
// tagged-variant interface instead: every concrete detector implements Kind,
// and "enhancement" (confluence, institutional-volume boosts) is computed
// inside AbsorptionDetector's own evaluation (evaluateConfluence is a method
// on it), not by a subclass with a back-reference to its base.
package detector

import (
	"github.com/shopspring/decimal"

	"signalbot/pkg/types"
)

// Kind is the uniform interface every detector variant implements.
type Kind interface {
	// OnEnrichedTrade evaluates one trade and returns a SignalCandidate when
	// the detector's conditions are met, or nil when they are not (nil, nil
	// is the normal "no signal this trade" outcome; err is reserved for
	// unexpected processing failures, which must not stop the stream).
	OnEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error)

	// Status reports current detector health for dashboard/metrics exposure.
	Status() types.DetectorStatus

	// MarkSignalConfirmed notifies the detector that a signal it emitted at
	// price/side was confirmed downstream, so it can reset per-zone state
	// (e.g. the absorption state machine returning to idle).
	MarkSignalConfirmed(price decimal.Decimal, side types.Side)
}
